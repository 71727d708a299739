/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package casc

import "github.com/pkg/errors"

// The error set below is a process-wide set of sentinels. Storage's
// own failures are one of these, optionally wrapped with
// github.com/pkg/errors context so callers can still errors.Is/errors.Cause
// down to the sentinel. FileHandle.Read and ReadAt pass errors from the
// span and blte layers through as they are (only end of file becomes
// ErrHandleEOF), and Close can return an archive file's close error.
var (
	ErrInvalidHandle      = errors.New("casc: invalid handle")
	ErrInvalidParameter   = errors.New("casc: invalid parameter")
	ErrFileNotFound       = errors.New("casc: file not found")
	ErrNotEnoughMemory    = errors.New("casc: not enough memory")
	ErrBadFormat          = errors.New("casc: bad format")
	ErrFileCorrupt        = errors.New("casc: file corrupt")
	ErrInsufficientBuffer = errors.New("casc: insufficient buffer")
	ErrHandleEOF          = errors.New("casc: handle eof")
	ErrCancelled          = errors.New("casc: cancelled")
)
