// Package github 基于 GitHub REST API 的活动数据提供商实现。
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v67/github"

	"repopulse/pkg/cache"
	"repopulse/pkg/logger"
	"repopulse/pkg/provider"
	"repopulse/pkg/timerange"
)

const providerName = "github"

// Config GitHub提供商配置
type Config struct {
	Token    string        `json:"token" mapstructure:"token"`         // API 访问令牌
	BaseURL  string        `json:"base_url" mapstructure:"base_url"`   // 企业版API地址，空则使用官方地址
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`     // 单次请求超时
	PageSize int           `json:"page_size" mapstructure:"page_size"` // 分页大小，上限100
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Timeout:  30 * time.Second,
		PageSize: 100,
	}
}

// Provider 实现 provider.ActivityProvider，按时间区间拉取仓库活动。
type Provider struct {
	client *gh.Client
	config Config
	log    *logger.Entry
}

// New 创建GitHub提供商。
func New(config Config) (*Provider, error) {
	if config.PageSize <= 0 || config.PageSize > 100 {
		config.PageSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	client := gh.NewClient(httpClient)
	if config.Token != "" {
		client = client.WithAuthToken(config.Token)
	}
	if config.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, provider.WrapError(provider.KindInvalidRepo, providerName, "invalid base URL", err)
		}
	}

	return &Provider{
		client: client,
		config: config,
		log:    logger.WithComponent("provider.github"),
	}, nil
}

// Name 返回提供商名称。
func (p *Provider) Name() string {
	return providerName
}

// Close 释放底层HTTP空闲连接。
func (p *Provider) Close() error {
	p.client.Client().CloseIdleConnections()
	return nil
}

// FetchActivity 获取指定仓库在时间区间内的活动记录，按发生时间升序返回。
func (p *Provider) FetchActivity(ctx context.Context, repositoryID string, dataType cache.DataType, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	owner, name, ok := strings.Cut(repositoryID, "/")
	if !ok || owner == "" || name == "" {
		return nil, provider.NewError(provider.KindInvalidRepo, providerName,
			fmt.Sprintf("invalid repository id: %q", repositoryID))
	}

	var (
		items []provider.ActivityItem
		err   error
	)
	switch dataType {
	case cache.DataTypePullRequests:
		items, err = p.fetchPullRequests(ctx, owner, name, dateRange)
	case cache.DataTypeDeployments:
		items, err = p.fetchDeployments(ctx, owner, name, dateRange)
	case cache.DataTypeCommits:
		items, err = p.fetchCommits(ctx, owner, name, dateRange)
	default:
		return nil, provider.NewError(provider.KindInvalidRepo, providerName,
			fmt.Sprintf("unsupported data type: %q", dataType))
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.Before(items[j].OccurredAt)
	})
	return items, nil
}

// fetchPullRequests 拉取创建时间落在区间内的PR。
// API按创建时间降序返回，翻页到早于区间起点即可停止。
func (p *Provider) fetchPullRequests(ctx context.Context, owner, name string, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	opts := &gh.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: p.config.PageSize,
		},
	}

	var items []provider.ActivityItem
	for {
		prs, resp, err := p.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, p.mapError("list pull requests", err)
		}

		pastRange := false
		for _, pr := range prs {
			createdAt := pr.GetCreatedAt().Time
			if createdAt.Before(dateRange.Start) {
				pastRange = true
				break
			}
			if !createdAt.Before(dateRange.End) {
				continue
			}
			payload, err := json.Marshal(pr)
			if err != nil {
				return nil, provider.WrapError(provider.KindUnknown, providerName, "encode pull request", err)
			}
			items = append(items, provider.ActivityItem{
				ID:         strconv.FormatInt(pr.GetID(), 10),
				OccurredAt: createdAt,
				Payload:    payload,
			})
		}

		if pastRange || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return items, nil
}

// fetchDeployments 拉取创建时间落在区间内的部署记录。
func (p *Provider) fetchDeployments(ctx context.Context, owner, name string, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	opts := &gh.DeploymentsListOptions{
		ListOptions: gh.ListOptions{
			PerPage: p.config.PageSize,
		},
	}

	var items []provider.ActivityItem
	for {
		deployments, resp, err := p.client.Repositories.ListDeployments(ctx, owner, name, opts)
		if err != nil {
			return nil, p.mapError("list deployments", err)
		}

		pastRange := false
		for _, d := range deployments {
			createdAt := d.GetCreatedAt().Time
			if createdAt.Before(dateRange.Start) {
				pastRange = true
				break
			}
			if !createdAt.Before(dateRange.End) {
				continue
			}
			payload, err := json.Marshal(d)
			if err != nil {
				return nil, provider.WrapError(provider.KindUnknown, providerName, "encode deployment", err)
			}
			items = append(items, provider.ActivityItem{
				ID:         strconv.FormatInt(d.GetID(), 10),
				OccurredAt: createdAt,
				Payload:    payload,
			})
		}

		if pastRange || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return items, nil
}

// fetchCommits 拉取提交时间落在区间内的提交，API原生支持时间过滤。
func (p *Provider) fetchCommits(ctx context.Context, owner, name string, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	opts := &gh.CommitsListOptions{
		Since: dateRange.Start,
		Until: dateRange.End,
		ListOptions: gh.ListOptions{
			PerPage: p.config.PageSize,
		},
	}

	var items []provider.ActivityItem
	for {
		commits, resp, err := p.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, p.mapError("list commits", err)
		}

		for _, c := range commits {
			occurredAt := c.GetCommit().GetCommitter().GetDate().Time
			payload, err := json.Marshal(c)
			if err != nil {
				return nil, provider.WrapError(provider.KindUnknown, providerName, "encode commit", err)
			}
			items = append(items, provider.ActivityItem{
				ID:         c.GetSHA(),
				OccurredAt: occurredAt,
				Payload:    payload,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return items, nil
}

// RateLimit 返回核心API的配额状态。
func (p *Provider) RateLimit(ctx context.Context) (provider.RateLimitStatus, error) {
	limits, _, err := p.client.RateLimit.Get(ctx)
	if err != nil {
		return provider.RateLimitStatus{}, p.mapError("query rate limit", err)
	}
	core := limits.GetCore()
	return provider.RateLimitStatus{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		ResetAt:   core.Reset.Time,
	}, nil
}

// IsArchived 查询仓库是否已归档。
func (p *Provider) IsArchived(ctx context.Context, repositoryID string) (bool, error) {
	owner, name, ok := strings.Cut(repositoryID, "/")
	if !ok || owner == "" || name == "" {
		return false, provider.NewError(provider.KindInvalidRepo, providerName,
			fmt.Sprintf("invalid repository id: %q", repositoryID))
	}

	repo, _, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return false, p.mapError("get repository", err)
	}
	return repo.GetArchived(), nil
}

// mapError 把 go-github 的错误映射为统一的提供商错误分类。
func (p *Provider) mapError(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return provider.WrapError(provider.KindAborted, providerName, operation+" canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.WrapError(provider.KindTimeout, providerName, operation+" timed out", err)
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		perr := provider.WrapError(provider.KindRateLimit, providerName, operation+" hit rate limit", err)
		perr.RetryAfter = time.Until(rateErr.Rate.Reset.Time)
		return perr
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		perr := provider.WrapError(provider.KindRateLimit, providerName, operation+" hit secondary rate limit", err)
		if abuseErr.RetryAfter != nil {
			perr.RetryAfter = *abuseErr.RetryAfter
		}
		return perr
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.WrapError(provider.KindAuth, providerName, operation+" unauthorized", err)
		case http.StatusNotFound:
			return provider.WrapError(provider.KindNotFound, providerName, operation+" target not found", err)
		case http.StatusUnprocessableEntity:
			return provider.WrapError(provider.KindInvalidRepo, providerName, operation+" rejected", err)
		}
	}

	return provider.WrapError(provider.KindNetwork, providerName, operation+" failed", err)
}

var (
	_ provider.ActivityProvider    = (*Provider)(nil)
	_ provider.RepositoryInspector = (*Provider)(nil)
	_ provider.Closable            = (*Provider)(nil)
)
