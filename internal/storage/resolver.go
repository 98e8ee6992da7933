// Package storage はオブジェクトストレージ上のパスを公開URLへ解決する。
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// publicObjectPrefix は公開オブジェクトを配信するパスの接頭辞。
const publicObjectPrefix = "/storage/v1/object/public/"

// PublicURLResolver はアバター等のストレージパスを公開URLへ解決する。
// パスは保存時のまま保持し、URLへの解決は読み取り時にのみ行う。
type PublicURLResolver struct {
	base   string
	bucket string
}

// NewPublicURLResolver はPublicURLResolverを生成する。
// publicBaseURLが空の場合は常にnilを返すResolverになる。
func NewPublicURLResolver(publicBaseURL, bucket string) (*PublicURLResolver, error) {
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("invalid storage public URL: %q", publicBaseURL)
		}
	}
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	return &PublicURLResolver{base: publicBaseURL, bucket: bucket}, nil
}

// Resolve はストレージパスを公開URLに解決する。
// パスが空、または公開URLが未設定の場合はnilを返す。
func (r *PublicURLResolver) Resolve(path string) *string {
	path = strings.TrimSpace(path)
	if r == nil || path == "" || r.base == "" {
		return nil
	}
	// 旧データには解決済みURLが入っていることがある
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return &path
	}

	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	resolved := r.base + publicObjectPrefix + url.PathEscape(r.bucket) + "/" + strings.Join(segments, "/")
	return &resolved
}
