// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across the application.
//
// This package contains small helpers used by the storage, knowledge, and
// provider layers for string manipulation, image sniffing, and file
// operations.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//
// Image Utilities:
//   - DetectImageFormat: magic-byte image format sniffing
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
package util
