/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

package statements

import (
	"errors"
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/message"
)

// InvalidRequestError reports a statement the client should not have sent:
// schema mismatches, illegal key shapes, unsupported consistency levels and
// the like. The message is safe to hand back to the client verbatim.
type InvalidRequestError struct {
	Msg string
}

func (e *InvalidRequestError) Error() string {
	return e.Msg
}

// ExecutionError reports a failure of a storage collaborator while executing
// an otherwise valid statement.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// InternalError reports a broken engine invariant, typically a statement
// constructed without going through validation.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return e.Msg
}

func invalidRequest(msg string) error {
	return &InvalidRequestError{Msg: msg}
}

func invalidRequestf(format string, args ...interface{}) error {
	return &InvalidRequestError{Msg: fmt.Sprintf(format, args...)}
}

func executionError(op string, err error) error {
	return &ExecutionError{Op: op, Err: err}
}

func internalErrorf(format string, args ...interface{}) error {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvalidRequest reports whether err is a client error.
func IsInvalidRequest(err error) bool {
	var ire *InvalidRequestError
	return errors.As(err, &ire)
}

// IsExecutionError reports whether err is a storage collaborator failure.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ToProtocolError translates an engine error into the native protocol error
// message to send back. Client mistakes map to Invalid; everything else,
// including broken invariants, surfaces as a server error.
func ToProtocolError(err error) message.Error {
	if err == nil {
		return nil
	}
	var ire *InvalidRequestError
	if errors.As(err, &ire) {
		return &message.Invalid{ErrorMessage: ire.Msg}
	}
	return &message.ServerError{ErrorMessage: err.Error()}
}
