package afpacket

import (
	"fmt"
)

// recomputeSize derives an AF_PACKET ring geometry from a byte budget.
//
// PACKET_MMAP requires frameSize to be a multiple of TPACKET_ALIGNMENT and
// blockSize to be a multiple of both pageSize and frameSize. The ring
// (blockSize * numBlocks) approximates bufferBytes.
func recomputeSize(bufferBytes, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52 // TPACKET3_HDRLEN, approximate
	const defaultBlockSize = 1 << 20

	if bufferBytes <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d", bufferBytes)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	// Power-of-two frames divide any power-of-two page or block evenly.
	frameSize = max(nextPow2(tpacketHdrLen+snapLen), tpacketAlignment)

	blockSize = lcm(max(frameSize, defaultBlockSize), pageSize)

	numBlocks = max(bufferBytes/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a / gcd(a, b)) * b
}
