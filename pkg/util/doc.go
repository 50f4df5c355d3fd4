// Package util provides small generic data structures shared by the engine
//
// This package includes the generic set implementation and the state
// transition tables used to classify execution and task run states
package util
