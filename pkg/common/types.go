package common

import "fmt"

// KeyType is the tuple key. The engine is tuned for 32-bit signed integer
// keys; pages pack keys little-endian at fixed offsets.
type KeyType int32

// ValueType is the tuple payload, fixed-size like the key.
type ValueType int32

// Pair is the basic unit stored in the trees and the staging buffer.
type Pair struct {
	Key   KeyType
	Value ValueType
}

func (p Pair) String() string {
	return fmt.Sprintf("Pair{Key: %d, Value: %d}", p.Key, p.Value)
}
