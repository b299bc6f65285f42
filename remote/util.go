package remote

import "regexp"

// Bot tokens are part of the Telegram API path and access tokens are passed
// as query values, neither may end up in a log.
var (
	botTokenRe    = regexp.MustCompile(`/bot[^/]+/`)
	accessTokenRe = regexp.MustCompile(`(access_token|key|corpsecret)=[^&]+`)
)

func redactURL(u string) string {
	u = botTokenRe.ReplaceAllString(u, "/bot(redacted)/")
	return accessTokenRe.ReplaceAllString(u, "$1=(redacted)")
}
