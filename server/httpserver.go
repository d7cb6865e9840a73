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

package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/metrics"
	"github.com/cubefs/xattrdb/util"
	"github.com/cubefs/xattrdb/xattr"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

type (
	InodeArgs struct {
		Ino uint64 `json:"ino"`
	}
	XattrArgs struct {
		Ino   uint64 `json:"ino"`
		Name  string `json:"name"`
		Size  int    `json:"size"`
		Flags int    `json:"flags"`
	}
	ListArgs struct {
		Ino  uint64 `json:"ino"`
		Size int    `json:"size"`
	}
	SizeRet struct {
		Size int `json:"size"`
	}
	ListRet struct {
		Size  int      `json:"size"`
		Names []string `json:"names,omitempty"`
	}
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	r := rpc.New()
	r.Handle(http.MethodGet, "/xattr/get", h.GetXattr, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/xattr/set", h.SetXattr, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/xattr/remove", h.RemoveXattr, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, "/xattr/list", h.ListXattr, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/inode/create", h.CreateInodeHandler, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/inode/drop", h.DropInodeHandler, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, "/stats", h.StatsHandler)

	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	r.Handle(http.MethodGet, "/metrics", func(c *rpc.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})
	return r
}

func (h *HttpServer) GetXattr(c *rpc.Context) {
	args := new(XattrArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := requestContext(c)
	if args.Size < 0 {
		respondError(c, apierrors.ErrInvalidArgument)
		return
	}

	var buf []byte
	if args.Size > 0 {
		if args.Size > xattr.MaxValLen {
			args.Size = xattr.MaxValLen
		}
		buf = make([]byte, args.Size)
	}
	n, err := h.xattr.Get(ctx, args.Ino, args.Name, buf)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(buf) == 0 {
		c.RespondJSON(SizeRet{Size: n})
		return
	}
	c.RespondWith(http.StatusOK, rpc.MIMEStream, buf[:n])
}

func (h *HttpServer) SetXattr(c *rpc.Context) {
	args := new(XattrArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	ctx := requestContext(c)
	span := trace.SpanFromContextSafe(ctx)

	reader := &util.TimeReader{R: io.LimitReader(c.Request.Body, xattr.MaxValLen+1)}
	value, err := io.ReadAll(reader)
	if err != nil {
		span.Warnf("read value of xattr %s failed: %s", args.Name, err)
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadBody", err))
		return
	}
	span.Debugf("read %d value bytes in %s", len(value), reader.GetCost())

	if err = h.xattr.Set(ctx, args.Ino, args.Name, value, args.Flags); err != nil {
		respondError(c, err)
		return
	}
	c.Respond()
}

func (h *HttpServer) RemoveXattr(c *rpc.Context) {
	args := new(XattrArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := h.xattr.Remove(requestContext(c), args.Ino, args.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Respond()
}

func (h *HttpServer) ListXattr(c *rpc.Context) {
	args := new(ListArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Size < 0 {
		respondError(c, apierrors.ErrInvalidArgument)
		return
	}

	var buf []byte
	if args.Size > 0 {
		buf = make([]byte, args.Size)
	}
	n, err := h.xattr.List(requestContext(c), args.Ino, buf)
	if err != nil {
		respondError(c, err)
		return
	}
	ret := ListRet{Size: n}
	if len(buf) > 0 && n > 0 {
		for _, name := range bytes.Split(buf[:n-1], []byte{0}) {
			ret.Names = append(ret.Names, string(name))
		}
	}
	c.RespondJSON(ret)
}

func (h *HttpServer) CreateInodeHandler(c *rpc.Context) {
	args := new(InodeArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := h.CreateInode(requestContext(c), args.Ino); err != nil {
		respondError(c, err)
		return
	}
	c.Respond()
}

func (h *HttpServer) DropInodeHandler(c *rpc.Context) {
	args := new(InodeArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := h.DropInode(requestContext(c), args.Ino); err != nil {
		respondError(c, err)
		return
	}
	c.Respond()
}

func (h *HttpServer) StatsHandler(c *rpc.Context) {
	stats, err := h.Stats(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(stats)
}

func requestContext(c *rpc.Context) context.Context {
	_, ctx := trace.StartSpanFromHTTPHeaderSafe(c.Request, "xattrdb")
	return ctx
}

func respondError(c *rpc.Context, err error) {
	c.RespondError(rpc.NewError(apierrors.HTTPStatus(err), apierrors.Code(err), err))
}
