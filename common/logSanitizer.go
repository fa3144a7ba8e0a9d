// Copyright Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package common

import "regexp"

// streamcoreLogSanitizer performs string-replacement based log redaction.
// This serves as a backstop, to help make sure that secrets don't get logged.
// It does search and replace of the types of credentials that are expected to exist in this
// application: bot tokens, persisted session blobs, and access hashes handed out for a
// document. The alternative would be to filter at all call sites where such values may end
// up in an error string, but that's less maintainable in the long term.
type streamcoreLogSanitizer struct {
	patterns []*regexp.Regexp
}

func NewLogSanitizer() LogSanitizer {
	return &streamcoreLogSanitizer{
		patterns: []*regexp.Regexp{
			// bot_token, e.g. 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw
			regexp.MustCompile(`\d{6,10}:[A-Za-z0-9_-]{30,40}`),
			// access_hash / file_reference / session values surfaced as key=value pairs
			regexp.MustCompile(`(?i)(access_hash|file_reference|session|bot_token)=([^&\s"']+)`),
		},
	}
}

// SanitizeLogMessage removes credentials and credential-like strings that are expected to
// appear in material logged by this application. It does not attempt to parse structured
// data; it only masks substrings matching known secret shapes.
func (s *streamcoreLogSanitizer) SanitizeLogMessage(raw string) string {
	out := raw
	for i, p := range s.patterns {
		if i == 0 {
			out = p.ReplaceAllString(out, "<redacted-bot-token>")
			continue
		}
		out = p.ReplaceAllString(out, "$1=<redacted>")
	}
	return out
}
