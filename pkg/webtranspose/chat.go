package webtranspose

import (
	"context"
	"strings"
)

const (
	defaultChatbotName     = "New Chatbot"
	defaultChatbotMaxPages = 100
	chatbotStatusComplete  = "complete"
	chatbotStatusFailed    = "failed"
)

// ChatbotRequest configures a chatbot built from crawled URLs.
type ChatbotRequest struct {
	Name     string   `json:"name"`
	URLs     []string `json:"url_list"`
	MaxPages int      `json:"max_pages"`
}

// Validate checks the request locally.
func (r ChatbotRequest) Validate() error {
	if len(r.URLs) == 0 {
		return configErrorf(pathChatCreate, "at least one url is required")
	}
	for _, u := range r.URLs {
		if err := validateURL(pathChatCreate, u); err != nil {
			return err
		}
	}
	if r.MaxPages < 0 {
		return configErrorf(pathChatCreate, "max_pages must not be negative, got %d", r.MaxPages)
	}
	return nil
}

// Chatbot describes a remote chatbot.
type Chatbot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	URLs     []string `json:"url_list,omitempty"`
	CrawlIDs []string `json:"crawl_ids,omitempty"`
}

// Complete reports whether the chatbot's crawls and indexing are finished.
func (c Chatbot) Complete() bool {
	return strings.EqualFold(c.Status, chatbotStatusComplete)
}

// ChatRecord is one retrieved record; its shape is defined by the service.
type ChatRecord map[string]any

// ChatbotJob is a handle to a chatbot being built.
type ChatbotJob struct {
	ID      string
	Request ChatbotRequest
	client  Client
}

// AttachChatbot returns a handle for an existing chatbot.
func AttachChatbot(client Client, chatbotID string) *ChatbotJob {
	return &ChatbotJob{ID: chatbotID, client: client}
}

type chatbotIDBody struct {
	ChatbotID string `json:"chatbot_id"`
}

func (c *httpClient) CreateChatbot(ctx context.Context, req ChatbotRequest) (*ChatbotJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Name == "" {
		req.Name = defaultChatbotName
	}
	if req.MaxPages == 0 {
		req.MaxPages = defaultChatbotMaxPages
	}
	var resp chatbotIDBody
	if err := c.call(ctx, pathChatCreate, req, &resp); err != nil {
		return nil, err
	}
	if resp.ChatbotID == "" {
		return nil, remoteError(pathChatCreate, 0, CodeInvalidResponse, "response missing chatbot_id")
	}
	return &ChatbotJob{ID: resp.ChatbotID, Request: req, client: c}, nil
}

func (c *httpClient) GetChatbot(ctx context.Context, chatbotID string) (*Chatbot, error) {
	if err := requireID(pathChatGet, "chatbot_id", chatbotID); err != nil {
		return nil, err
	}
	var resp struct {
		Chatbot *Chatbot `json:"chatbot"`
	}
	if err := c.call(ctx, pathChatGet, chatbotIDBody{chatbotID}, &resp); err != nil {
		return nil, err
	}
	if resp.Chatbot == nil {
		return nil, remoteError(pathChatGet, 0, CodeInvalidResponse, "response missing chatbot")
	}
	if resp.Chatbot.ID == "" {
		resp.Chatbot.ID = chatbotID
	}
	return resp.Chatbot, nil
}

func (c *httpClient) QueryChatbot(ctx context.Context, chatbotID, query string, numRecords int) ([]ChatRecord, error) {
	if err := requireID(pathChatQuery, "chatbot_id", chatbotID); err != nil {
		return nil, err
	}
	q, err := validateQuery(pathChatQuery, query)
	if err != nil {
		return nil, err
	}
	if numRecords <= 0 {
		numRecords = 5
	}
	body := struct {
		ChatbotID  string `json:"chatbot_id"`
		Query      string `json:"query"`
		NumRecords int    `json:"num_records"`
	}{chatbotID, q, numRecords}

	var resp struct {
		Results []ChatRecord `json:"results"`
	}
	if err := c.call(ctx, pathChatQuery, body, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []ChatRecord{}
	}
	return resp.Results, nil
}

func (c *httpClient) AddChatbotURLs(ctx context.Context, chatbotID string, urls []string, maxPages int) error {
	if err := requireID(pathChatAddURLs, "chatbot_id", chatbotID); err != nil {
		return err
	}
	if len(urls) == 0 {
		return configErrorf(pathChatAddURLs, "at least one url is required")
	}
	for _, u := range urls {
		if err := validateURL(pathChatAddURLs, u); err != nil {
			return err
		}
	}
	if maxPages <= 0 {
		maxPages = defaultChatbotMaxPages
	}
	body := struct {
		ChatbotID string   `json:"chatbot_id"`
		MaxPages  int      `json:"max_pages"`
		URLs      []string `json:"url_list"`
	}{chatbotID, maxPages, urls}
	return c.call(ctx, pathChatAddURLs, body, nil)
}

func (c *httpClient) DeleteChatbotCrawls(ctx context.Context, chatbotID string, crawlIDs []string) error {
	if err := requireID(pathChatDeleteCrawls, "chatbot_id", chatbotID); err != nil {
		return err
	}
	if len(crawlIDs) == 0 {
		return configErrorf(pathChatDeleteCrawls, "at least one crawl id is required")
	}
	body := struct {
		ChatbotID   string   `json:"chatbot_id"`
		CrawlIDList []string `json:"crawl_id_list"`
	}{chatbotID, crawlIDs}
	return c.call(ctx, pathChatDeleteCrawls, body, nil)
}

// Status fetches the chatbot descriptor.
func (j *ChatbotJob) Status(ctx context.Context) (*Chatbot, error) {
	return j.client.GetChatbot(ctx, j.ID)
}

// Wait blocks until the chatbot reports complete.
func (j *ChatbotJob) Wait(ctx context.Context, opts ...PollOption) (*Chatbot, error) {
	var last *Chatbot
	err := poll(ctx, newPollConfig(opts), pathChatGet, func(ctx context.Context) (bool, error) {
		bot, err := j.client.GetChatbot(ctx, j.ID)
		if err != nil {
			return false, err
		}
		last = bot
		if strings.EqualFold(bot.Status, chatbotStatusFailed) {
			return false, remoteError(pathChatGet, 0, CodeJobFailed, "chatbot "+j.ID+" failed")
		}
		return bot.Complete(), nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// Query retrieves the records most relevant to query.
func (j *ChatbotJob) Query(ctx context.Context, query string, numRecords int) ([]ChatRecord, error) {
	return j.client.QueryChatbot(ctx, j.ID, query, numRecords)
}
