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

import "fmt"

// indicates that Start() has been called on a running coordinator
type AlreadyRunningError struct{}

func (e AlreadyRunningError) Error() string {
	return "The transfer pipeline is already running and cannot be started again."
}

// indicates that Stop() has been called on a coordinator that was never
// started
type NotStartedError struct{}

func (e NotStartedError) Error() string {
	return "The transfer pipeline is not running."
}

// indicates that a transfer request is malformed
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("Invalid %s in transfer request: %s", e.Field, e.Reason)
}

// indicates that a transfer's status was requested by someone other than its
// submitter
type NotSubmitterError struct {
	TransferId string
	Dn         string
}

func (e NotSubmitterError) Error() string {
	return fmt.Sprintf("The transfer %s was not submitted by %s.", e.TransferId, e.Dn)
}

// indicates that a staging callback carried a missing, mismatched, or
// expired callback token
type InvalidAuthcodeError struct {
	TransferId string
}

func (e InvalidAuthcodeError) Error() string {
	return fmt.Sprintf("Invalid callback token for transfer %s.", e.TransferId)
}
