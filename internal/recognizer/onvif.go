package recognizer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

const (
	actionCreatePullPoint = "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"
	actionPullMessages    = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/PullMessagesRequest"

	createPullPointBody = `<CreatePullPointSubscription xmlns="http://www.onvif.org/ver10/events/wsdl"><InitialTerminationTime>PT180S</InitialTerminationTime></CreatePullPointSubscription>`
	pullMessagesBody    = `<PullMessages xmlns="http://www.onvif.org/ver10/events/wsdl"><Timeout>PT3S</Timeout><MessageLimit>10</MessageLimit></PullMessages>`
)

type envelope struct {
	Body struct {
		CreatePullPointSubscriptionResponse struct {
			SubscriptionReference struct {
				Address string `xml:"Address"`
			} `xml:"SubscriptionReference"`
		} `xml:"CreatePullPointSubscriptionResponse"`
		PullMessagesResponse struct {
			NotificationMessages []struct {
				Topic   string `xml:"Topic"`
				Message struct {
					Message struct {
						UtcTime string       `xml:"UtcTime,attr"`
						Data    []simpleItem `xml:"Data>SimpleItem"`
					} `xml:"Message"`
				} `xml:"Message"`
			} `xml:"NotificationMessage"`
		} `xml:"PullMessagesResponse"`
		Fault *struct {
			Reason string `xml:"Reason>Text"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

type simpleItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

type ONVIFConfig struct {
	URL      string
	Username string
	Password string
	CameraID string
}

// ONVIFSource pulls license plate events from an ONVIF pull-point subscription
// (Hikvision ANPR cameras expose PlateNumber in the event data).
type ONVIFSource struct {
	cfg    ONVIFConfig
	client *http.Client
	retry  *backoff.ExponentialBackOff
	log    zerolog.Logger
	now    func() time.Time
}

func NewONVIFSource(cfg ONVIFConfig, client *http.Client, log zerolog.Logger) *ONVIFSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ONVIFSource{cfg: cfg, client: client, retry: newRestartBackOff(), log: log, now: time.Now}
}

func (s *ONVIFSource) Name() string { return "onvif" }

func (s *ONVIFSource) Run(ctx context.Context, emit func(parking.PlateRead)) error {
	b := s.retry
	b.Reset()
	address := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if address == "" {
			addr, err := s.subscribe(ctx)
			if err != nil {
				wait := b.NextBackOff()
				s.log.Warn().Err(err).Dur("retry_in", wait).Msg("onvif subscription failed")
				if !sleep(ctx, wait) {
					return ctx.Err()
				}
				continue
			}
			address = addr
		}

		reads, err := s.pull(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// подписка могла истечь, создаём новую после паузы
			wait := b.NextBackOff()
			s.log.Warn().Err(err).Dur("retry_in", wait).Msg("onvif pull failed, resubscribing")
			address = ""
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		b.Reset()
		for _, read := range reads {
			emit(read)
		}
	}
}

func (s *ONVIFSource) subscribe(ctx context.Context) (string, error) {
	env, err := s.call(ctx, s.cfg.URL, "", actionCreatePullPoint, createPullPointBody)
	if err != nil {
		return "", err
	}
	address := strings.TrimSpace(env.Body.CreatePullPointSubscriptionResponse.SubscriptionReference.Address)
	if address == "" {
		return "", fmt.Errorf("subscription response has no address")
	}
	return address, nil
}

func (s *ONVIFSource) pull(ctx context.Context, address string) ([]parking.PlateRead, error) {
	env, err := s.call(ctx, address, address, actionPullMessages, pullMessagesBody)
	if err != nil {
		return nil, err
	}
	return platesFromEnvelope(env, s.cfg.CameraID, s.now()), nil
}

func (s *ONVIFSource) call(ctx context.Context, endpoint, to, action, body string) (*envelope, error) {
	payload, err := buildEnvelope(action, to, s.cfg.Username, s.cfg.Password, body, s.now())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode soap response (status %d): %w", resp.StatusCode, err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("soap fault: %s", strings.TrimSpace(env.Body.Fault.Reason))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("soap request failed with status %d", resp.StatusCode)
	}
	return &env, nil
}

func buildEnvelope(action, to, username, password, body string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:wsa="http://www.w3.org/2005/08/addressing">`)
	buf.WriteString(`<s:Header>`)
	buf.WriteString(`<wsa:Action s:mustUnderstand="1">` + action + `</wsa:Action>`)
	if to != "" {
		buf.WriteString(`<wsa:To s:mustUnderstand="1">`)
		if err := xml.EscapeText(&buf, []byte(to)); err != nil {
			return nil, err
		}
		buf.WriteString(`</wsa:To>`)
	}
	if username != "" {
		token, err := usernameToken(username, password, now)
		if err != nil {
			return nil, err
		}
		buf.WriteString(token)
	}
	buf.WriteString(`</s:Header>`)
	buf.WriteString(`<s:Body>` + body + `</s:Body>`)
	buf.WriteString(`</s:Envelope>`)
	return buf.Bytes(), nil
}

// usernameToken builds a WS-Security PasswordDigest header:
// Base64(SHA1(nonce + created + password)).
func usernameToken(username, password string, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	created := now.UTC().Format(time.RFC3339)
	return usernameTokenWithNonce(username, password, nonce, created), nil
}

func usernameTokenWithNonce(username, password string, nonce []byte, created string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	var user bytes.Buffer
	_ = xml.EscapeText(&user, []byte(username))

	return `<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">` +
		`<UsernameToken>` +
		`<Username>` + user.String() + `</Username>` +
		`<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">` + digest + `</Password>` +
		`<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">` + base64.StdEncoding.EncodeToString(nonce) + `</Nonce>` +
		`<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">` + created + `</Created>` +
		`</UsernameToken>` +
		`</Security>`
}

func platesFromEnvelope(env *envelope, cameraID string, now time.Time) []parking.PlateRead {
	var reads []parking.PlateRead
	for _, n := range env.Body.PullMessagesResponse.NotificationMessages {
		msg := n.Message.Message
		read := parking.PlateRead{
			CameraID:  cameraID,
			Source:    "onvif",
			Direction: parking.DirectionUnknown,
			EventTime: now.UTC(),
		}
		if ts, err := time.Parse(time.RFC3339, msg.UtcTime); err == nil {
			read.EventTime = ts.UTC()
		}

		raw := map[string]interface{}{"topic": strings.TrimSpace(n.Topic)}
		for _, item := range msg.Data {
			switch item.Name {
			case "PlateNumber":
				read.Plate = strings.TrimSpace(item.Value)
			case "Likelihood":
				if v, err := strconv.Atoi(item.Value); err == nil {
					// некоторые прошивки отдают промилле
					if v > 100 {
						v /= 10
					}
					read.Confidence = float64(v)
				}
			case "VehicleDirection":
				switch item.Value {
				case "forward":
					read.Direction = parking.DirectionApproaching
				case "reverse":
					read.Direction = parking.DirectionLeaving
				}
			case "Country", "Nation":
				raw[strings.ToLower(item.Name)] = item.Value
			}
		}

		if read.Plate == "" || strings.EqualFold(read.Plate, "unknown") {
			continue
		}
		read.RawPayload = raw
		reads = append(reads, read)
	}
	return reads
}
