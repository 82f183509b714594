// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"strings"
	"time"
)

// strftime tokens understood by os.date inside the sandbox.
var luaDateTokens = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%I", "03",
	"%M", "04",
	"%S", "05",
	"%p", "PM",
	"%b", "Jan",
	"%a", "Mon",
	"%z", "-0700",
	"%Z", "MST",
	"%%", "%",
)

// LuaDateFormatToGo converts a strftime style format string to a Go layout.
// An empty format, "%c", or a format with no recognised token and no date
// separators maps to RFC3339.
func LuaDateFormatToGo(luaFormat string) string {
	if luaFormat == "" || luaFormat == "%c" {
		return time.RFC3339
	}
	out := luaDateTokens.Replace(luaFormat)
	if out == luaFormat && !strings.Contains(luaFormat, "-") && !strings.Contains(luaFormat, ":") {
		return time.RFC3339
	}
	return out
}
