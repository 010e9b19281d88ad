package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AppAccessToken はclient_credentialsフローでアプリアクセストークンを取得する。
// 設定で固定トークンが与えられていない場合の起動時ブートストラップに使う。
func AppAccessToken(ctx context.Context, httpClient *http.Client, baseURL, version, appID, appSecret string) (string, error) {
	q := url.Values{}
	q.Set("client_id", appID)
	q.Set("client_secret", appSecret)
	q.Set("grant_type", "client_credentials")

	tokenURL := fmt.Sprintf("%s/%s/oauth/access_token?%s",
		strings.TrimRight(baseURL, "/"), version, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
			return "", &envelope.Error
		}
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}

	return result.AccessToken, nil
}
