// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"github.com/luxfi/geth/common"

	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/state"
)

var allowed = []byte{1}

func aclKey(h Handle, account common.Address) []byte {
	return state.Key(aclPrefix, h[:], account.Bytes())
}

// Allow grants account persistent access to h. Granting twice is a no-op and
// there is no revocation.
func Allow(st state.ReadWriter, h Handle, account common.Address) {
	st.SetState(aclKey(h, account), allowed)
}

// IsAllowed reports whether account was granted access to h.
func IsAllowed(st state.Reader, h Handle, account common.Address) (bool, error) {
	_, err := st.GetState(aclKey(h, account))
	switch {
	case err == nil:
		return true, nil
	case database.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
