package profile

import "github.com/header-rotator/internal/types"

const (
	desktopAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	mobileAccept  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8"
	acceptEncode  = "gzip, deflate, br"
)

// Builtin returns the default profile set covering the top desktop and mobile
// browser share. Header order mirrors what each browser actually sends.
func Builtin() []types.Profile {
	return []types.Profile{
		{
			ID:        "desktop_chrome",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
			Weight:    0.38,
			Locale:    types.Locale{Language: "en-US,en;q=0.9", Country: "US", Timezone: "America/New_York"},
			Headers: []types.Header{
				{Name: "Accept", Value: desktopAccept},
				{Name: "Accept-Encoding", Value: acceptEncode},
				{Name: "Connection", Value: "keep-alive"},
				{Name: "Upgrade-Insecure-Requests", Value: "1"},
				{Name: "Sec-CH-UA", Value: `"Not.A/Brand";v="8", "Chromium";v="112", "Google Chrome";v="112"`},
				{Name: "Sec-CH-UA-Mobile", Value: "?0"},
				{Name: "Sec-CH-UA-Platform", Value: `"Windows"`},
				{Name: "Sec-Fetch-Dest", Value: "document"},
				{Name: "Sec-Fetch-Mode", Value: "navigate"},
				{Name: "Sec-Fetch-Site", Value: "none"},
				{Name: "Sec-Fetch-User", Value: "?1"},
			},
		},
		{
			ID:        "desktop_firefox",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:116.0) Gecko/20100101 Firefox/116.0",
			Weight:    0.07,
			Locale:    types.Locale{Language: "en-US,en;q=0.9", Country: "US", Timezone: "America/Chicago"},
			Headers: []types.Header{
				{Name: "Accept", Value: desktopAccept},
				{Name: "Accept-Encoding", Value: acceptEncode},
				{Name: "Connection", Value: "keep-alive"},
				{Name: "Upgrade-Insecure-Requests", Value: "1"},
				{Name: "Sec-Fetch-Dest", Value: "document"},
				{Name: "Sec-Fetch-Mode", Value: "navigate"},
				{Name: "Sec-Fetch-Site", Value: "none"},
				{Name: "Sec-Fetch-User", Value: "?1"},
			},
		},
		{
			ID:        "desktop_safari",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
			Weight:    0.19,
			Locale:    types.Locale{Language: "en-US,en;q=0.8", Country: "US", Timezone: "America/Los_Angeles"},
			Headers: []types.Header{
				{Name: "Accept", Value: desktopAccept},
				{Name: "Accept-Encoding", Value: acceptEncode},
				{Name: "Connection", Value: "keep-alive"},
			},
		},
		{
			ID:        "mobile_android",
			UserAgent: "Mozilla/5.0 (Linux; Android 13; Pixel 7 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Mobile Safari/537.36",
			Weight:    0.24,
			Locale:    types.Locale{Language: "en-US,en;q=0.8", Country: "US", Timezone: "America/Denver"},
			Headers: []types.Header{
				{Name: "Accept", Value: mobileAccept},
				{Name: "Accept-Encoding", Value: acceptEncode},
				{Name: "Connection", Value: "keep-alive"},
				{Name: "Upgrade-Insecure-Requests", Value: "1"},
				{Name: "Sec-CH-UA", Value: `"Not.A/Brand";v="8", "Chromium";v="110", "Google Chrome";v="110"`},
				{Name: "Sec-CH-UA-Mobile", Value: "?1"},
				{Name: "Sec-CH-UA-Platform", Value: `"Android"`},
				{Name: "Sec-Fetch-Dest", Value: "document"},
				{Name: "Sec-Fetch-Mode", Value: "navigate"},
				{Name: "Sec-Fetch-Site", Value: "none"},
				{Name: "Sec-Fetch-User", Value: "?1"},
			},
		},
		{
			ID:        "mobile_ios",
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.3 Mobile/15E148 Safari/604.1",
			Weight:    0.12,
			Locale:    types.Locale{Language: "en-US,en;q=0.8", Country: "US", Timezone: "America/New_York"},
			Headers: []types.Header{
				{Name: "Accept", Value: mobileAccept},
				{Name: "Accept-Encoding", Value: acceptEncode},
				{Name: "Connection", Value: "keep-alive"},
			},
		},
	}
}
