package parser

import (
	"strings"

	"github.com/mssola/useragent"
)

// botKeywords flags automated traffic by case-insensitive substring match.
// "datadog agent" is included because monitoring agents count as automated
// traffic in the bot reports even though they are not crawlers.
var botKeywords = []string{
	"bot",
	"crawler",
	"spider",
	"googlebot",
	"python-urllib",
	"datadog agent",
}

// classifyUserAgent maps a raw user-agent string to a browser family and an
// OS family, defaulting to "Other" when the string is unrecognized.
func classifyUserAgent(ua string) (browser, osFamily string) {
	parsed := useragent.New(strings.Trim(ua, `"`))

	browser, _ = parsed.Browser()
	if browser == "" {
		browser = "Other"
	}
	osFamily = parsed.OSInfo().Name
	if osFamily == "" {
		osFamily = "Other"
	}
	return browser, osFamily
}

// isBotUserAgent reports whether the user-agent matches any bot keyword.
func isBotUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, kw := range botKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
