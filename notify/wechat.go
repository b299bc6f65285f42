package notify

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/patrickmn/go-cache"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const wecomEndpoint = "https://qyapi.weixin.qq.com/cgi-bin"

// Error codes that mean the access token has to be fetched again.
var staleTokenCodes = map[int]bool{40014: true, 42001: true}

type wecomResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (w wecomResponse) err(sink string) error {
	if w.ErrCode == 0 {
		return nil
	}
	return errors.WithStack(remote.NewRequestError(sink, strconv.Itoa(w.ErrCode)+": "+w.ErrMsg))
}

func postWecom(ctx context.Context, c *remote.Client, endpoint string, payload interface{}) (wecomResponse, error) {
	var body wecomResponse
	res, err := c.PostJSON(ctx, endpoint, payload)
	if err != nil {
		return body, err
	}
	defer res.Body.Close()
	if err := res.BindJSON(&body); err != nil {
		return body, err
	}
	return body, nil
}

// Wechat posts markdown reports to a WeCom group robot.
type Wechat struct {
	http     *remote.Client
	endpoint string
	key      string
}

func NewWechat(cfg config.WechatConfiguration) *Wechat {
	return &Wechat{
		http:     remote.NewClient("wechat", remote.WithTimeout(sendTimeout)),
		endpoint: wecomEndpoint,
		key:      cfg.Key,
	}
}

func (w *Wechat) Name() string {
	return "wechat"
}

func (w *Wechat) Send(ctx context.Context, r *Report) error {
	if w.key == "" {
		return errors.New("notify: wechat webhook key is not configured")
	}
	body, err := postWecom(ctx, w.http, w.endpoint+"/webhook/send?key="+url.QueryEscape(w.key), map[string]interface{}{
		"msgtype":  "markdown",
		"markdown": map[string]string{"content": r.Markdown()},
	})
	if err != nil {
		return err
	}
	return body.err(w.Name())
}

// WechatApp sends plain text reports as a WeCom application message to every
// member. The access token is kept until shortly before it expires.
type WechatApp struct {
	http     *remote.Client
	endpoint string
	corpID   string
	secret   string
	agentID  string
	tokens   *cache.Cache
}

func NewWechatApp(cfg config.WechatAppConfiguration) *WechatApp {
	return &WechatApp{
		http:     remote.NewClient("wechat_app", remote.WithTimeout(sendTimeout)),
		endpoint: wecomEndpoint,
		corpID:   cfg.CorpID,
		secret:   cfg.Secret,
		agentID:  cfg.AgentID,
		tokens:   cache.New(time.Hour, 10*time.Minute),
	}
}

func (w *WechatApp) Name() string {
	return "wechat_app"
}

func (w *WechatApp) token(ctx context.Context) (string, error) {
	if t, ok := w.tokens.Get(w.corpID); ok {
		return t.(string), nil
	}

	var body wecomResponse
	q := url.Values{"corpid": {w.corpID}, "corpsecret": {w.secret}}
	res, err := w.http.Get(ctx, w.endpoint+"/gettoken?"+q.Encode())
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if err := res.BindJSON(&body); err != nil {
		return "", err
	}
	if err := body.err(w.Name()); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", errors.WithStack(remote.NewRequestError(w.Name(), "no access token in response"))
	}

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	// Give up the token a little before the server does.
	if ttl > 5*time.Minute {
		ttl -= 5 * time.Minute
	}
	w.tokens.Set(w.corpID, body.AccessToken, ttl)
	return body.AccessToken, nil
}

func (w *WechatApp) Send(ctx context.Context, r *Report) error {
	if w.corpID == "" || w.secret == "" || w.agentID == "" {
		return errors.New("notify: wechat application is not fully configured")
	}
	agent, err := strconv.Atoi(w.agentID)
	if err != nil {
		return errors.Wrap(err, "notify: wechat agent id must be numeric")
	}
	payload := map[string]interface{}{
		"touser":  "@all",
		"msgtype": "text",
		"agentid": agent,
		"text":    map[string]string{"content": r.Text()},
	}

	for i := 0; i < 2; i++ {
		token, err := w.token(ctx)
		if err != nil {
			return err
		}
		body, err := postWecom(ctx, w.http, w.endpoint+"/message/send?access_token="+url.QueryEscape(token), payload)
		if err != nil {
			return err
		}
		if staleTokenCodes[body.ErrCode] {
			w.tokens.Delete(w.corpID)
			continue
		}
		return body.err(w.Name())
	}
	return errors.WithStack(remote.NewRequestError(w.Name(), "access token rejected twice"))
}
