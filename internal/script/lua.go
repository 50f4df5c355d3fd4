package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/kode4food/cascade/internal/util"
)

type (
	// LuaEnv compiles and runs sandboxed Lua scripts. Compiled chunks are
	// cached by source and argument names, and states are pooled
	LuaEnv struct {
		cache     *util.LRUCache[*CompiledLua]
		statePool chan *lua.State
	}

	// CompiledLua is a Lua chunk whose named arguments are bound as locals
	CompiledLua struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaCacheSize        = 1024
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaGlobalTableName  = "_G"
	luaSeparator        = "\n"
	luaResultKey        = "result"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
	ErrEmptyScript  = errors.New("lua script empty")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a LuaEnv
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		cache:     util.NewLRUCache[*CompiledLua](luaCacheSize),
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Compile compiles a script whose arguments are the provided names. The
// names are sorted, so the same set always yields the same chunk
func (e *LuaEnv) Compile(
	script string, argNames ...string,
) (*CompiledLua, error) {
	if strings.TrimSpace(script) == "" {
		return nil, ErrEmptyScript
	}
	names := slices.Sorted(slices.Values(argNames))
	names = slices.Compact(names)
	return e.cache.Get(hashScript(script, names), func() (*CompiledLua, error) {
		return e.compile(wrapSource(script, names), names)
	})
}

// Validate reports whether the script compiles
func (e *LuaEnv) Validate(script string, argNames ...string) error {
	_, err := e.Compile(script, argNames...)
	return err
}

// Execute runs a compiled script. A table result becomes the returned map,
// any other value is returned under the "result" key
func (e *LuaEnv) Execute(
	c *CompiledLua, args map[string]any,
) (map[string]any, error) {
	var res map[string]any
	err := e.withCompiledResult(c, args, func(L *lua.State) {
		if L.IsTable(-1) {
			res = luaTableToMap(L, -1)
		} else {
			res = map[string]any{luaResultKey: luaToGo(L, -1)}
		}
		L.Pop(1)
	})
	return res, err
}

// EvaluatePredicate runs a compiled script and returns its result as a
// Lua truth value
func (e *LuaEnv) EvaluatePredicate(
	c *CompiledLua, args map[string]any,
) (bool, error) {
	res := false
	err := e.withCompiledResult(c, args, func(L *lua.State) {
		res = L.ToBoolean(-1)
		L.Pop(1)
	})
	return res, err
}

func wrapSource(script string, argNames []string) string {
	locals := make([]string, len(argNames))
	for i, name := range argNames {
		locals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}
	return strings.Join(append(locals, script), luaSeparator)
}

func hashScript(script string, argNames []string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(script))
	for _, name := range argNames {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *LuaEnv) compile(src string, argNames []string) (*CompiledLua, error) {
	L := lua.NewState()
	setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	return &CompiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) withCompiledResult(
	c *CompiledLua, args map[string]any, onResult func(*lua.State),
) error {
	L := e.getState()
	defer e.returnState(L)

	setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range c.argNames {
		goToLua(L, args[name])
	}
	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
	onResult(L)
	return nil
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)
	select {
	case e.statePool <- L:
	default:
	}
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		if v == float64(int(v)) {
			L.PushInteger(int(v))
			return
		}
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, v := range m {
		L.PushString(k)
		goToLua(L, v)
		L.SetTable(luaMapTableIndex)
	}
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		num, _ := L.ToNumber(index)
		if num == float64(int(num)) {
			return int(num)
		}
		return num
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToMap(L *lua.State, index int) map[string]any {
	res := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		if L.TypeOf(-2) == lua.TypeString {
			key, _ := L.ToString(-2)
			res[key] = luaToGo(L, -1)
		}
		L.Pop(1)
	}
	return res
}

func luaTableToAny(L *lua.State, index int) any {
	abs := L.AbsIndex(index)
	length := 0
	isArray := true

	L.PushNil()
	for L.Next(abs) {
		L.Pop(1)
		if L.TypeOf(-1) != lua.TypeNumber {
			isArray = false
			L.Pop(1)
			break
		}
		length++
	}

	if isArray && length > 0 {
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			L.RawGetInt(abs, i)
			arr[i-1] = luaToGo(L, -1)
			L.Pop(1)
		}
		return arr
	}

	res := map[string]any{}
	L.PushNil()
	for L.Next(abs) {
		if L.TypeOf(-2) == lua.TypeString {
			key, _ := L.ToString(-2)
			res[key] = luaToGo(L, -1)
		} else {
			res[fmt.Sprintf("%v", luaToGo(L, -2))] = luaToGo(L, -1)
		}
		L.Pop(1)
	}
	return res
}
