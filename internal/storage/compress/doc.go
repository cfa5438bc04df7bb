// Package compress selects the best of several compression strategies for
// a payload and reverses the choice on read.
//
// Each Strategy turns a payload into a self-describing Block. Engine.Compress
// runs every registered strategy, keeps only candidates that decode back to
// the exact input, and returns the smallest one when it saves at least
// MinGain of the original size. Engine.Decompress dispatches on Block.Type;
// tags it does not know are handed to the legacy Snappy decoder.
package compress
