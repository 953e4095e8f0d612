package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"sm_copilot/internal/httpmiddleware"
	"sm_copilot/internal/models"
)

const (
	defaultBaseURL = "https://www.shippingmanager.app"

	// Чтение
	vesselsEndpoint   = "/api/vessel/get-vessels"
	bunkerEndpoint    = "/api/bunker/status"
	pricesEndpoint    = "/api/market/prices"
	demandEndpoint    = "/api/harbor/demand"
	campaignsEndpoint = "/api/campaign/list"
	casesEndpoint     = "/api/pirates/cases"
	caseEndpoint      = "/api/pirates/case"
	coopEndpoint      = "/api/coop/status"
	headerEndpoint    = "/api/user/header"
	eventsEndpoint    = "/api/events/latest"
	inboxEndpoint     = "/api/inbox/messages"

	// Мутации
	buyFuelEndpoint    = "/api/bunker/buy-fuel"
	buyCO2Endpoint     = "/api/bunker/buy-co2"
	departEndpoint     = "/api/vessel/depart"
	repairEndpoint     = "/api/vessel/repair"
	drydockEndpoint    = "/api/vessel/drydock"
	campaignEndpoint   = "/api/campaign/activate"
	settleEndpoint     = "/api/pirates/settle"
	contributeEndpoint = "/api/coop/contribute"
)

var (
	// ErrAlreadyDeparted - судно уже ушло (гонка с ручным действием игрока)
	ErrAlreadyDeparted = errors.New("vessel already departed")
	// ErrSessionExpired - игровая сессия протухла, нужна новая cookie
	ErrSessionExpired = errors.New("game session expired")
)

// Client - клиент игрового API Shipping Manager для одного аккаунта
type Client struct {
	account    models.Account
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient создает клиент для аккаунта
func NewClient(account models.Account, logger *slog.Logger) (*Client, error) {
	jar, _ := cookiejar.New(nil)

	baseTransport := httpmiddleware.DefaultTransport()

	if account.Proxy != "" {
		proxyURL, err := url.Parse(account.Proxy)
		if err != nil {
			logger.Error("Invalid proxy",
				slog.String("account", account.Name),
				slog.Any("error", err))
		} else {
			baseTransport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	httpClient := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
		Transport: httpmiddleware.Wrap(
			baseTransport,
			httpmiddleware.Logger(logger),
		),
	}

	client := &Client{
		account:    account,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}

	client.setSessionCookie()

	return client, nil
}

// setSessionCookie кладёт сессионную cookie аккаунта в jar
func (c *Client) setSessionCookie() {
	u, _ := url.Parse(c.baseURL)
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{{
		Name:   "session",
		Value:  strings.TrimSpace(c.account.Session),
		Domain: u.Hostname(),
		Path:   "/",
	}})
}

// apiResponse - стандартный конверт ответа игрового API
type apiResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")

	if c.account.UserAgent != "" {
		req.Header.Set("User-Agent", c.account.UserAgent)
	} else {
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	}
}

// do выполняет запрос и разворачивает конверт ответа в out
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrSessionExpired
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, endpoint, resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !envelope.Success {
		switch envelope.Code {
		case "vessel_already_departed":
			return ErrAlreadyDeparted
		case "session_expired":
			return ErrSessionExpired
		}
		return fmt.Errorf("%s %s: api error: %s", method, endpoint, envelope.Message)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// GetVessels возвращает весь флот аккаунта
func (c *Client) GetVessels(ctx context.Context) ([]models.Vessel, error) {
	var vessels []models.Vessel
	if err := c.do(ctx, http.MethodGet, vesselsEndpoint, nil, nil, &vessels); err != nil {
		return nil, err
	}
	return vessels, nil
}

// GetBunker возвращает состояние бункера
func (c *Client) GetBunker(ctx context.Context) (models.Bunker, error) {
	var bunker models.Bunker
	err := c.do(ctx, http.MethodGet, bunkerEndpoint, nil, nil, &bunker)
	return bunker, err
}

// GetPrices возвращает биржевые цены топлива и квот
func (c *Client) GetPrices(ctx context.Context) (models.Prices, error) {
	var prices models.Prices
	if err := c.do(ctx, http.MethodGet, pricesEndpoint, nil, nil, &prices); err != nil {
		return models.Prices{}, err
	}
	prices.FetchedAt = time.Now()
	return prices, nil
}

// GetPortDemand возвращает спрос одного порта
func (c *Client) GetPortDemand(ctx context.Context, portID int) (models.PortDemand, error) {
	q := url.Values{"portId": {fmt.Sprint(portID)}}
	var demand models.PortDemand
	err := c.do(ctx, http.MethodGet, demandEndpoint, q, nil, &demand)
	return demand, err
}

// GetCampaigns возвращает маркетинговые кампании
func (c *Client) GetCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	if err := c.do(ctx, http.MethodGet, campaignsEndpoint, nil, nil, &campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// GetCases возвращает список пиратских дел
func (c *Client) GetCases(ctx context.Context) ([]models.HostageCase, error) {
	var cases []models.HostageCase
	if err := c.do(ctx, http.MethodGet, casesEndpoint, nil, nil, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// GetCase возвращает одно пиратское дело
func (c *Client) GetCase(ctx context.Context, caseID int) (models.HostageCase, error) {
	q := url.Values{"id": {fmt.Sprint(caseID)}}
	var hc models.HostageCase
	err := c.do(ctx, http.MethodGet, caseEndpoint, q, nil, &hc)
	return hc, err
}

// GetCoop возвращает состояние кооператива
func (c *Client) GetCoop(ctx context.Context) (models.CoopStatus, error) {
	var coop models.CoopStatus
	err := c.do(ctx, http.MethodGet, coopEndpoint, nil, nil, &coop)
	return coop, err
}

// GetHeader возвращает данные шапки
func (c *Client) GetHeader(ctx context.Context) (models.Header, error) {
	var header models.Header
	err := c.do(ctx, http.MethodGet, headerEndpoint, nil, nil, &header)
	return header, err
}

// GetEvents возвращает последние события игровой ленты
func (c *Client) GetEvents(ctx context.Context) ([]models.GameEvent, error) {
	var events []models.GameEvent
	if err := c.do(ctx, http.MethodGet, eventsEndpoint, nil, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetInbox возвращает сообщения общего инбокса
func (c *Client) GetInbox(ctx context.Context) ([]models.InboxMessage, error) {
	var messages []models.InboxMessage
	if err := c.do(ctx, http.MethodGet, inboxEndpoint, nil, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// BuyFuel покупает tons тонн топлива по текущей цене
func (c *Client) BuyFuel(ctx context.Context, tons float64) (models.Bunker, error) {
	var bunker models.Bunker
	err := c.do(ctx, http.MethodPost, buyFuelEndpoint, nil, map[string]any{"tons": tons}, &bunker)
	return bunker, err
}

// BuyCO2 покупает tons тонн квоты CO2
func (c *Client) BuyCO2(ctx context.Context, tons float64) (models.Bunker, error) {
	var bunker models.Bunker
	err := c.do(ctx, http.MethodPost, buyCO2Endpoint, nil, map[string]any{"tons": tons}, &bunker)
	return bunker, err
}

// DepartResult - итог отправки одного судна
type DepartResult struct {
	VesselID int     `json:"vesselId"`
	Revenue  float64 `json:"revenue"` // выручка рейса
	Fees     float64 `json:"fees"`    // сборы порта назначения
}

// Net возвращает чистый результат рейса
func (r DepartResult) Net() float64 {
	return r.Revenue - r.Fees
}

// Depart отправляет судно с cargo единицами груза в порт portID
func (c *Client) Depart(ctx context.Context, vesselID, portID, cargo int) (DepartResult, error) {
	body := map[string]any{
		"vesselId": vesselID,
		"portId":   portID,
		"cargo":    cargo,
	}
	var result DepartResult
	err := c.do(ctx, http.MethodPost, departEndpoint, nil, body, &result)
	return result, err
}

// Repair запускает ремонт судов
func (c *Client) Repair(ctx context.Context, vesselIDs []int) error {
	return c.do(ctx, http.MethodPost, repairEndpoint, nil, map[string]any{"vesselIds": vesselIDs}, nil)
}

// Drydock отправляет суда в сухой док
func (c *Client) Drydock(ctx context.Context, vesselIDs []int) error {
	return c.do(ctx, http.MethodPost, drydockEndpoint, nil, map[string]any{"vesselIds": vesselIDs}, nil)
}

// ActivateCampaign активирует маркетинговую кампанию
func (c *Client) ActivateCampaign(ctx context.Context, campaignType string) (models.Campaign, error) {
	var campaign models.Campaign
	err := c.do(ctx, http.MethodPost, campaignEndpoint, nil, map[string]any{"type": campaignType}, &campaign)
	return campaign, err
}

// SettleCase выплачивает выкуп и закрывает пиратское дело
func (c *Client) SettleCase(ctx context.Context, caseID int, amount float64) (models.HostageCase, error) {
	body := map[string]any{"caseId": caseID, "amount": amount}
	var hc models.HostageCase
	err := c.do(ctx, http.MethodPost, settleEndpoint, nil, body, &hc)
	return hc, err
}

// Contribute переводит взнос кооперативу
func (c *Client) Contribute(ctx context.Context, amount float64) error {
	return c.do(ctx, http.MethodPost, contributeEndpoint, nil, map[string]any{"amount": amount}, nil)
}
