package recovery

import "github.com/mssola/useragent"

// ParseDevice extracts device metadata from a User-Agent header. An empty or
// unparseable header yields a zero DeviceInfo; recovery never fails on it.
func ParseDevice(rawUA string) DeviceInfo {
	if rawUA == "" {
		return DeviceInfo{}
	}
	ua := useragent.New(rawUA)
	browser, version := ua.Browser()
	if version != "" {
		browser = browser + "/" + version
	}
	return DeviceInfo{
		UserAgent: rawUA,
		Platform:  ua.Platform(),
		OS:        ua.OS(),
		Browser:   browser,
		Mobile:    ua.Mobile(),
		Bot:       ua.Bot(),
	}
}
