// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package transfers

import (
	"context"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/datagrid/gts/config"
)

// Callback tokens (authcodes) bind a staging dispatch to its completion
// callback. When a callback key is configured, each dispatch carries a fresh
// fernet token encrypting the transfer id, and the staging completion
// callback must return it: the token has to decrypt under the key, name the
// same transfer, match the one recorded for the dispatch, and be younger
// than the configured TTL.

// mints a callback token for the given transfer
func newAuthcode(key *fernet.Key, transferId string) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(transferId), key)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// checks a staging callback's token against the transfer's recorded authcode
func (c *Coordinator) verifyAuthcode(ctx context.Context, transferId, token string) error {
	transfer, err := c.Store.Get(ctx, transferId)
	if err != nil {
		return err
	}
	if transfer.Authcode == "" || token != transfer.Authcode {
		return InvalidAuthcodeError{TransferId: transferId}
	}
	ttl := time.Duration(config.Staging.CallbackTtl) * time.Second
	payload := fernet.VerifyAndDecrypt([]byte(token), ttl, []*fernet.Key{c.callbackKey})
	if payload == nil || string(payload) != transferId {
		return InvalidAuthcodeError{TransferId: transferId}
	}
	return nil
}
