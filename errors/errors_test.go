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
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrno(t *testing.T) {
	require.Equal(t, syscall.Errno(0), Errno(nil))
	require.Equal(t, syscall.EINVAL, Errno(ErrInvalidFlags))
	require.Equal(t, syscall.ERANGE, Errno(ErrNameTooLong))
	require.Equal(t, syscall.ERANGE, Errno(ErrRangeTooSmall))
	require.Equal(t, syscall.E2BIG, Errno(ErrValueTooLarge))
	require.Equal(t, syscall.EOPNOTSUPP, Errno(ErrUnsupportedNamespace))
	require.Equal(t, syscall.ENODATA, Errno(ErrNoData))
	require.Equal(t, syscall.EEXIST, Errno(ErrAlreadyExists))
	require.Equal(t, syscall.EIO, Errno(ErrCorrupt))
	require.Equal(t, syscall.ENOMEM, Errno(ErrResourceExhausted))

	wrapped := fmt.Errorf("set: %w", ErrNoData)
	require.Equal(t, syscall.ENODATA, Errno(wrapped))
	require.Equal(t, syscall.EIO, Errno(errors.New("disk on fire")))
}

func TestHTTPStatusAndCode(t *testing.T) {
	require.Equal(t, http.StatusOK, HTTPStatus(nil))
	require.Equal(t, "OK", Code(nil))
	require.Equal(t, http.StatusNotFound, HTTPStatus(ErrNoData))
	require.Equal(t, "NoData", Code(ErrNoData))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
	require.Equal(t, "Internal", Code(errors.New("x")))
}

func TestIsInvalidInput(t *testing.T) {
	require.True(t, IsInvalidInput(ErrInvalidFlags))
	require.True(t, IsInvalidInput(fmt.Errorf("wrap: %w", ErrValueTooLarge)))
	require.False(t, IsInvalidInput(ErrNoData))
	require.False(t, IsInvalidInput(nil))
}
