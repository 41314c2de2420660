/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

// ErrRemoteDisabled is returned for http(s) images when fetching is off.
var ErrRemoteDisabled = errors.New("remote images disabled")

func (l *layouter) loadImage(src string) image.Image {
	if img, ok := l.images[src]; ok {
		return img
	}
	img, err := l.fetchImage(src)
	if err != nil {
		l.log.Debug("image unavailable", slog.String("src", truncate(src, 64)), slog.Any("err", err))
	}
	l.images[src] = img
	return img
}

func (l *layouter) fetchImage(src string) (image.Image, error) {
	switch {
	case src == "":
		return nil, errors.New("empty src")
	case strings.HasPrefix(src, "data:"):
		data, err := DecodeDataURL(src)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		if !l.opt.FetchRemote {
			return nil, ErrRemoteDisabled
		}
		return l.fetchRemote(src)
	}
	return nil, fmt.Errorf("unsupported image source")
}

func (l *layouter) fetchRemote(src string) (image.Image, error) {
	if _, err := url.Parse(src); err != nil {
		return nil, err
	}
	client := l.opt.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(l.ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, l.opt.MaxImageBytes))
	return img, err
}

// DecodeDataURL returns the payload of a data: URL.
func DecodeDataURL(src string) ([]byte, error) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return nil, errors.New("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	}
	s, err := url.PathUnescape(payload)
	return []byte(s), err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
