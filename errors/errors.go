// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"
	"net/http"
	"syscall"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidFlags         = errors.New("invalid xattr flags")
	ErrNameTooLong          = errors.New("xattr name too long")
	ErrValueTooLarge        = errors.New("xattr value too large")
	ErrUnsupportedNamespace = errors.New("unsupported xattr namespace")

	ErrNoData        = errors.New("xattr does not exist")
	ErrAlreadyExists = errors.New("xattr already exists")
	ErrRangeTooSmall = errors.New("buffer too small")

	ErrCorrupt           = errors.New("xattr items corrupted")
	ErrResourceExhausted = errors.New("resource exhausted")

	ErrInoDoesNotExist = errors.New("ino does not exist")
	ErrInoExists       = errors.New("ino already exists")
	ErrLockNotCovered  = errors.New("item is not covered by the held lock")
)

type errorInfo struct {
	errno  syscall.Errno
	status int
	code   string
}

var taxonomy = map[error]errorInfo{
	ErrInvalidArgument:      {syscall.EINVAL, http.StatusBadRequest, "InvalidArgument"},
	ErrInvalidFlags:         {syscall.EINVAL, http.StatusBadRequest, "InvalidFlags"},
	ErrNameTooLong:          {syscall.ERANGE, http.StatusBadRequest, "NameTooLong"},
	ErrValueTooLarge:        {syscall.E2BIG, http.StatusRequestEntityTooLarge, "ValueTooLarge"},
	ErrUnsupportedNamespace: {syscall.EOPNOTSUPP, http.StatusBadRequest, "UnsupportedNamespace"},
	ErrNoData:               {syscall.ENODATA, http.StatusNotFound, "NoData"},
	ErrAlreadyExists:        {syscall.EEXIST, http.StatusConflict, "AlreadyExists"},
	ErrRangeTooSmall:        {syscall.ERANGE, http.StatusRequestedRangeNotSatisfiable, "RangeTooSmall"},
	ErrCorrupt:              {syscall.EIO, http.StatusInternalServerError, "Corrupt"},
	ErrResourceExhausted:    {syscall.ENOMEM, http.StatusServiceUnavailable, "ResourceExhausted"},
	ErrInoDoesNotExist:      {syscall.ENOENT, http.StatusNotFound, "InoDoesNotExist"},
	ErrInoExists:            {syscall.EEXIST, http.StatusConflict, "InoExists"},
	ErrLockNotCovered:       {syscall.EINVAL, http.StatusInternalServerError, "LockNotCovered"},
}

func lookup(err error) (errorInfo, bool) {
	for target, info := range taxonomy {
		if errors.Is(err, target) {
			return info, true
		}
	}
	return errorInfo{}, false
}

// Errno maps err onto the errno a filesystem caller expects, unknown
// errors from the item store surface as EIO
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if info, ok := lookup(err); ok {
		return info.errno
	}
	return syscall.EIO
}

// HTTPStatus is the response status of err on the http api
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if info, ok := lookup(err); ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code is a short stable name of err, used as http error code and metric label
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	if info, ok := lookup(err); ok {
		return info.code
	}
	return "Internal"
}

func IsInvalidInput(err error) bool {
	for _, target := range []error{ErrInvalidArgument, ErrInvalidFlags, ErrNameTooLong, ErrValueTooLarge, ErrUnsupportedNamespace} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
