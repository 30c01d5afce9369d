// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package store is the buffer table shared by the reference backends.
//
// A Store plays the part of the buffer memory behind the handles: Import
// makes a buffer known (as if it had been received from another process),
// Retain/Release track local registration and Lock/Unlock enforce a single
// CPU mapping at a time. Backends translate the errors of this package into
// their own vocabulary.
package store
