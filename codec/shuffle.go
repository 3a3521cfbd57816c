package codec

// shuffle groups the bytes of fixed-size elements by byte position: all
// byte-0s first, then all byte-1s, and so on. Trailing bytes that don't form a
// whole element are appended unchanged.
func shuffle(data []byte, elemSize int) []byte {
	count := len(data) / elemSize
	out := make([]byte, len(data))
	for i := 0; i < count; i++ {
		for j := 0; j < elemSize; j++ {
			out[j*count+i] = data[i*elemSize+j]
		}
	}
	copy(out[count*elemSize:], data[count*elemSize:])
	return out
}

func unshuffle(data []byte, elemSize int) []byte {
	count := len(data) / elemSize
	out := make([]byte, len(data))
	for i := 0; i < count; i++ {
		for j := 0; j < elemSize; j++ {
			out[i*elemSize+j] = data[j*count+i]
		}
	}
	copy(out[count*elemSize:], data[count*elemSize:])
	return out
}
