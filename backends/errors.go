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

package backends

import "fmt"

// indicates that the stager rejected a staging request
type StagerError struct {
	StatusCode int
}

func (e StagerError) Error() string {
	return fmt.Sprintf("The stager rejected the staging request (HTTP %d).", e.StatusCode)
}

// indicates that a transfer-host agent rejected a request
type AgentError struct {
	Host       string
	StatusCode int
}

func (e AgentError) Error() string {
	return fmt.Sprintf("The agent on %s rejected the request (HTTP %d).", e.Host, e.StatusCode)
}

// indicates that a transfer-host agent could not list a staged directory
type FileListError struct {
	Host string
	Dir  string
}

func (e FileListError) Error() string {
	return fmt.Sprintf("The agent on %s couldn't list the files in %s.", e.Host, e.Dir)
}
