// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fanclub/master/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	network  schema.NetworkVector
	slaves   schema.SlavesVector
	feedback *schema.FeedbackVector
	lastCV   schema.ControlVector
	submitErr error
}

func (f *fakeSource) NetworkVector() schema.NetworkVector   { return f.network }
func (f *fakeSource) SlavesVector() schema.SlavesVector     { return f.slaves }
func (f *fakeSource) FeedbackVector() *schema.FeedbackVector { return f.feedback }
func (f *fakeSource) SubmitControl(cv schema.ControlVector) error {
	f.lastCV = cv
	return f.submitErr
}

func TestVectorsEndpointReturnsJSON(t *testing.T) {
	src := &fakeSource{
		network:  schema.NetworkVector{Connected: true, LocalIP: "10.0.0.1"},
		feedback: schema.NewFeedbackVector(1, 1, 0),
	}
	s := NewServer(Config{}, src, nil, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vectors", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "10.0.0.1")
}

func TestControlEndpointSubmitsVector(t *testing.T) {
	src := &fakeSource{feedback: schema.NewFeedbackVector(1, 1, 0)}
	s := NewServer(Config{}, src, nil, prometheus.NewRegistry())

	body := bytes.NewBufferString(`{"code":0,"all":true,"duty":50}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/control", body)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, src.lastCV.Target.All)
	assert.Equal(t, 50, src.lastCV.Duty)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSource{feedback: schema.NewFeedbackVector(1, 1, 0)}
	s := NewServer(Config{}, src, nil, reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	src := &fakeSource{feedback: schema.NewFeedbackVector(1, 1, 0)}
	verifier := NewTokenVerifier(nil)
	s := NewServer(Config{RequireAuth: true, AllowedPaths: []string{"/metrics"}}, src, verifier, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vectors", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w2 := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestVerifyRejectsMissingBearerPrefix(t *testing.T) {
	v := NewTokenVerifier(nil)
	_, err := v.Verify("not-a-bearer-token")
	require.Error(t, err)
}
