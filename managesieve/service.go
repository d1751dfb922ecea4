package managesieve

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/pkg/retry"
)

// DialFunc opens an authenticated client.
type DialFunc func(ctx context.Context) (*Client, error)

// Service runs one short session per call against the configured account.
type Service struct {
	dial    DialFunc
	backoff retry.BackoffConfig
}

func NewService(cfg config.ManageSieveConfig, backoff retry.BackoffConfig) (*Service, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: managesieve.addr is not set", consts.ErrInvalidInput)
	}
	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("managesieve.timeout: %w", err)
	}
	host, _, _ := net.SplitHostPort(cfg.Addr)
	tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: cfg.InsecureSkipVerify}

	dial := func(ctx context.Context) (*Client, error) {
		c, err := Dial(ctx, cfg.Addr, cfg.TLS, tlsConfig, timeout)
		if err != nil {
			return nil, err
		}
		if err := c.Authenticate(cfg.Username, cfg.Password); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
	return NewServiceWithDialer(dial, backoff), nil
}

func NewServiceWithDialer(dial DialFunc, backoff retry.BackoffConfig) *Service {
	return &Service{dial: dial, backoff: backoff}
}

// session connects, retrying network failures but not a NO from the
// server, runs fn and logs out.
func (s *Service) session(ctx context.Context, command string, fn func(*Client) error) (err error) {
	defer func() {
		metrics.ManageSieveCommands.WithLabelValues(command, metrics.Status(err)).Inc()
	}()

	var c *Client
	err = retry.WithRetry(ctx, "managesieve_connect", s.backoff, func() error {
		var derr error
		c, derr = s.dial(ctx)
		var re *ResponseError
		if errors.As(derr, &re) {
			return retry.Stop(derr)
		}
		return derr
	})
	if err != nil {
		return err
	}
	defer func() {
		if lerr := c.Logout(); lerr != nil {
			logger.Debug("ManageSieve logout failed", "error", lerr)
		}
	}()
	return fn(c)
}

func (s *Service) Capabilities(ctx context.Context) (caps Capabilities, err error) {
	err = s.session(ctx, "capability", func(c *Client) error {
		caps = c.Capabilities()
		return nil
	})
	return caps, err
}

func (s *Service) List(ctx context.Context) (scripts []Script, err error) {
	err = s.session(ctx, "listscripts", func(c *Client) error {
		scripts, err = c.ListScripts()
		return err
	})
	return scripts, err
}

// Active returns the active script name, "" when none is active.
func (s *Service) Active(ctx context.Context) (name string, err error) {
	err = s.session(ctx, "listscripts", func(c *Client) error {
		name, err = c.ActiveScript()
		return err
	})
	return name, err
}

func (s *Service) Get(ctx context.Context, name string) (script string, err error) {
	err = s.session(ctx, "getscript", func(c *Client) error {
		script, err = c.GetScript(name)
		return err
	})
	return script, err
}

// GetAll downloads every script in one session.
func (s *Service) GetAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.session(ctx, "getscript", func(c *Client) error {
		scripts, err := c.ListScripts()
		if err != nil {
			return err
		}
		for _, sc := range scripts {
			body, err := c.GetScript(sc.Name)
			if err != nil {
				return fmt.Errorf("%s: %w", sc.Name, err)
			}
			out[sc.Name] = body
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Check asks the server whether it accepts script.
func (s *Service) Check(ctx context.Context, script string) error {
	return s.session(ctx, "checkscript", func(c *Client) error {
		return c.CheckScript(script)
	})
}

// Upload stores script under name and optionally makes it the active one.
func (s *Service) Upload(ctx context.Context, name, script string, activate bool) error {
	err := s.session(ctx, "putscript", func(c *Client) error {
		if err := c.PutScript(name, script); err != nil {
			return err
		}
		if activate {
			return c.SetActive(name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("Uploaded script", "name", name, "bytes", len(script), "active", activate)
	return nil
}

func (s *Service) Activate(ctx context.Context, name string) error {
	return s.session(ctx, "setactive", func(c *Client) error {
		return c.SetActive(name)
	})
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.session(ctx, "deletescript", func(c *Client) error {
		return c.DeleteScript(name)
	})
}
