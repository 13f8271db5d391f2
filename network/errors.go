package network

import "github.com/nebula-stream/node-engine/nebulaerrors"

func connectTimeoutError(addr string, attempts int) error {
	return nebulaerrors.New(nebulaerrors.CodeConnectTimeout, nebulaerrors.ErrConnectTimeout,
		"exceeded retry_times dialing receiver").
		WithContext("addr", addr).
		WithContext("attempts", attempts)
}
