// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import "context"

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.MethodFunc("GET", "/{org}/{channel}/{variant}.m3u8", s.manifest.ServeHTTP)
	s.Router.MethodFunc("HEAD", "/{org}/{channel}/{variant}.m3u8", s.manifest.ServeHTTP)
	s.Router.Route("/api", createRouteAPI(s.breaks))
	return nil
}
