// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import "regexp"

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// IsValidScriptName checks if a script folder name is a valid slug.
func IsValidScriptName(name string) bool {
	return slugRegex.MatchString(name)
}
