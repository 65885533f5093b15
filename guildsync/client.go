package guildsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
)

const permissionViewChannel = 1 << 10

type httpRemoteClient struct {
	baseURL string
	token   string
	guildId string
	http    *http.Client
	limiter <-chan time.Time
}

// NewHTTPRemoteClient builds the real platform client from env. The limiter
// paces requests under the platform's per-route budget; retry/backoff for
// failures lives in RetryPolicy, not here.
func NewHTTPRemoteClient() (RemoteClient, error) {
	token := config.GetGuildBotToken()
	if token == "" {
		return nil, errors.New("guild bot token is empty")
	}
	guildId := config.GetGuildId()
	if guildId == "" {
		return nil, errors.New("guild id is empty")
	}

	rateLimitPerMin := int64(50)
	if v := strings.TrimSpace(os.Getenv("GUILD_API_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &httpRemoteClient{
		baseURL: config.GetGuildAPIBaseURL(),
		token:   token,
		guildId: guildId,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

type channelPayload struct {
	Id                   string             `json:"id"`
	Name                 string             `json:"name"`
	Type                 int                `json:"type"`
	ParentId             string             `json:"parent_id"`
	PermissionOverwrites []overwritePayload `json:"permission_overwrites"`
}

type overwritePayload struct {
	Id    string      `json:"id"`
	Type  int         `json:"type"`
	Allow json.Number `json:"allow"`
	Deny  json.Number `json:"deny"`
}

const (
	channelTypeVoice    = 2
	channelTypeCategory = 4
)

func (c *httpRemoteClient) CreateCategoryResource(ctx context.Context, name string) (string, error) {
	body := map[string]interface{}{"name": name, "type": channelTypeCategory}
	var created channelPayload
	err := c.do(ctx, http.MethodPost, "/guilds/"+c.guildId+"/channels", body, "", &created)
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *httpRemoteClient) CreateVoiceResource(ctx context.Context, name string, parentId string) (string, error) {
	body := map[string]interface{}{"name": name, "type": channelTypeVoice}
	if parentId != "" {
		body["parent_id"] = parentId
	}
	var created channelPayload
	err := c.do(ctx, http.MethodPost, "/guilds/"+c.guildId+"/channels", body, "", &created)
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *httpRemoteClient) RenameResource(ctx context.Context, resourceId string, name string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+resourceId, map[string]interface{}{"name": name}, "", nil)
}

func (c *httpRemoteClient) SetVisibility(ctx context.Context, resourceId string, roleId string, visible bool) error {
	return c.putOverwrite(ctx, resourceId, roleId, visible)
}

func (c *httpRemoteClient) SetRoleOverwrite(ctx context.Context, resourceId string, roleId string, visible bool) error {
	return c.putOverwrite(ctx, resourceId, roleId, visible)
}

func (c *httpRemoteClient) putOverwrite(ctx context.Context, resourceId string, roleId string, visible bool) error {
	body := map[string]interface{}{"type": 0}
	if visible {
		body["allow"] = strconv.Itoa(permissionViewChannel)
		body["deny"] = "0"
	} else {
		body["allow"] = "0"
		body["deny"] = strconv.Itoa(permissionViewChannel)
	}
	return c.do(ctx, http.MethodPut, "/channels/"+resourceId+"/permissions/"+roleId, body, "", nil)
}

func (c *httpRemoteClient) DeleteResource(ctx context.Context, resourceId string, reason string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+resourceId, nil, reason, nil)
}

func (c *httpRemoteClient) FetchResource(ctx context.Context, resourceId string) (*RemoteResource, error) {
	var ch channelPayload
	if err := c.do(ctx, http.MethodGet, "/channels/"+resourceId, nil, "", &ch); err != nil {
		return nil, err
	}

	res := &RemoteResource{
		Id:             ch.Id,
		Name:           ch.Name,
		ParentId:       ch.ParentId,
		RoleVisibility: map[string]bool{},
	}
	switch ch.Type {
	case channelTypeCategory:
		res.Kind = "category"
	case channelTypeVoice:
		res.Kind = "voice"
	}
	for _, ow := range ch.PermissionOverwrites {
		if ow.Type != 0 { // role overwrites only
			continue
		}
		allow, _ := strconv.ParseInt(ow.Allow.String(), 10, 64)
		deny, _ := strconv.ParseInt(ow.Deny.String(), 10, 64)
		if allow&permissionViewChannel != 0 {
			res.RoleVisibility[ow.Id] = true
		} else if deny&permissionViewChannel != 0 {
			res.RoleVisibility[ow.Id] = false
		}
	}
	return res, nil
}

func (c *httpRemoteClient) do(ctx context.Context, method string, path string, body interface{}, auditReason string, out interface{}) error {
	<-c.limiter

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Kind: RemoteErrorPermanent, Message: err.Error()}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RemoteError{Kind: RemoteErrorPermanent, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", auditReason)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Kind: RemoteErrorTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return &RemoteError{Kind: RemoteErrorPermanent, Message: "decode response: " + err.Error()}
			}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &RemoteError{Kind: RemoteErrorNotFound, Message: trimBody(respBody)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RemoteError{
			Kind:       RemoteErrorRateLimited,
			RetryAfter: retryAfterFrom(resp, respBody),
			Message:    trimBody(respBody),
		}
	case resp.StatusCode >= 500:
		return &RemoteError{Kind: RemoteErrorTransient, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, trimBody(respBody))}
	default:
		return &RemoteError{Kind: RemoteErrorPermanent, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, trimBody(respBody))}
	}
}

func retryAfterFrom(resp *http.Response, body []byte) time.Duration {
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}
	return 5 * time.Second
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
