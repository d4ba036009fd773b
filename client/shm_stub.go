//go:build !linux

package client

import "errors"

func createSegment(data []byte) (int, func(), error) {
	return 0, nil, errors.New("client: shared-memory databases unsupported on this platform")
}
