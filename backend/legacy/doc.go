// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package legacy provides a legacy-generation bufmap backend.
//
// The backend registers itself on import with a lower priority than the
// modern backends, so bufmap.New only falls back to it when no modern
// backend loads:
//
//	import _ "github.com/gogpu/bufmap/backend/legacy"
//
// A Device runs in one of two modes. The plain mode exposes buffers through
// the flex-plane API. The adapter mode, enabled with WithAdapter, behaves
// like a device layered over a very old driver: it reports
// bufmap.CapabilityOnAdapter, locks YCbCr buffers natively, has no flex-plane
// API and cannot register handles by value, so buffers are registered when
// they are allocated.
package legacy
