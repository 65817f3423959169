// Copyright (c) 2016 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec implements the framing, quoting and here-document rules of
// the cache daemon's line-based administration protocol.
package codec

// Status is the small closed set of response codes the cache daemon and the
// gateway exchange.
type Status int

// The status codes defined by the administration protocol.
const (
	Syntax  Status = 100
	Unknown Status = 101
	Unimpl  Status = 102
	TooFew  Status = 104
	TooMany Status = 105
	Param   Status = 106
	Auth    Status = 107
	OK      Status = 200
	Cant    Status = 300
	Comms   Status = 400
	Close   Status = 500
)

func (s Status) String() string {
	switch s {
	case Syntax:
		return "SYNTAX"
	case Unknown:
		return "UNKNOWN"
	case Unimpl:
		return "UNIMPL"
	case TooFew:
		return "TOOFEW"
	case TooMany:
		return "TOOMANY"
	case Param:
		return "PARAM"
	case Auth:
		return "AUTH"
	case OK:
		return "OK"
	case Cant:
		return "CANT"
	case Comms:
		return "COMMS"
	case Close:
		return "CLOSE"
	default:
		return "UNKNOWN_STATUS"
	}
}
