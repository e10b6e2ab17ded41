package midjourney

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/Strob0t/ImageForge/internal/port/provider"
)

const accountCacheKey = "midjourney:accounts"

// Account is one Discord account slot on the proxy.
type Account struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId"`
	CoreSize  int    `json:"coreSize"`
	QueueSize int    `json:"queueSize"`
	Enable    bool   `json:"enable"`
}

// load is the fraction of an account's concurrency budget in use.
// Accounts with no capacity sort last.
func (a Account) load() float64 {
	if a.CoreSize <= 0 {
		return 1e9
	}
	return float64(a.QueueSize) / float64(a.CoreSize)
}

// ListAccounts fetches all proxy accounts, serving from the cache when a
// recent copy exists.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	if c.accounts != nil {
		if data, ok, err := c.accounts.Get(ctx, accountCacheKey); err == nil && ok {
			var cached []Account
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/mj/account/list", nil)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, provider.Errorf(provider.KindUnavailable, "decode account list: %v", err)
	}

	if c.accounts != nil {
		if cached, err := json.Marshal(accounts); err == nil {
			_ = c.accounts.Set(ctx, accountCacheKey, cached, c.cfg.AccountCacheTTL)
		}
	}
	return accounts, nil
}

// pickAccount selects the enabled account with the most free capacity.
func (c *Client) pickAccount(ctx context.Context) (string, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return "", err
	}

	available := accounts[:0:0]
	for _, a := range accounts {
		if a.Enable && a.QueueSize < a.CoreSize {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		return "", provider.Errorf(provider.KindUnavailable, "no midjourney accounts with free capacity")
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].load() < available[j].load()
	})
	return available[0].ID, nil
}
