package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"time"

	"github.com/lance13c/vrt/internal/compare"
	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
)

const disableAnimationsCSS = `*, *::before, *::after {
  animation-duration: 0s !important;
  animation-delay: 0s !important;
  transition-duration: 0s !important;
  transition-delay: 0s !important;
  caret-color: transparent !important;
  scroll-behavior: auto !important;
}`

const injectStyleJS = `(() => {
  const style = document.createElement('style');
  style.setAttribute('data-vrt', 'stability');
  style.textContent = %s;
  document.head.appendChild(style);
  return true;
})()`

const waitAnimationsJS = `(async () => {
  if (!document.getAnimations) return true;
  const running = document.getAnimations().filter(a => a.playState === 'running');
  await Promise.all(running.map(a => a.finished.catch(() => null)));
  return true;
})()`

const hideJS = `(() => {
  for (const sel of %s) {
    document.querySelectorAll(sel).forEach(el => { el.style.visibility = 'hidden'; });
  }
  return true;
})()`

const maskJS = `(() => {
  const color = %s;
  for (const sel of %s) {
    document.querySelectorAll(sel).forEach(el => {
      el.style.background = color;
      el.style.color = 'transparent';
      el.querySelectorAll('*').forEach(child => { child.style.visibility = 'hidden'; });
    });
  }
  return true;
})()`

const replaceTextJS = `(() => {
  document.querySelectorAll(%s).forEach(el => { el.textContent = %s; });
  return true;
})()`

const isHiddenJS = `(() => {
  const el = document.querySelector(%s);
  if (!el) return true;
  const style = window.getComputedStyle(el);
  return style.display === 'none' || style.visibility === 'hidden' || el.offsetParent === null;
})()`

// Stabilizer prepares a page so repeated captures render identically
type Stabilizer struct {
	cfg config.StabilityConfig
}

// NewStabilizer creates a stabilizer
func NewStabilizer(cfg config.StabilityConfig) *Stabilizer {
	return &Stabilizer{cfg: cfg}
}

// jsString encodes v as a JavaScript literal
func jsString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Prepare disables animations, runs custom wait strategies, waits for the
// network and running animations, applies hide/mask/replace rules and sleeps
// for the final delay. Network and animation waits only warn on timeout.
func (s *Stabilizer) Prepare(ctx context.Context, page Page) error {
	if s.cfg.DisableAnimations {
		script := fmt.Sprintf(injectStyleJS, jsString(disableAnimationsCSS))
		if err := page.Evaluate(ctx, script, nil); err != nil {
			return fmt.Errorf("disable animations: %w", err)
		}
	}

	for i, ws := range s.cfg.WaitStrategies {
		if err := s.runWait(ctx, page, ws); err != nil {
			return fmt.Errorf("wait strategy %d (%s): %w", i, ws.Type, err)
		}
	}

	if s.cfg.WaitForNetworkIdle {
		wctx, cancel := withOptionalTimeout(ctx, s.cfg.NetworkIdleTimeout)
		err := page.WaitNetworkIdle(wctx, 500*time.Millisecond)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn("network did not go idle: %v", err)
		}
	}

	if s.cfg.WaitForAnimations {
		wctx, cancel := withOptionalTimeout(ctx, s.cfg.AnimationTimeout)
		err := page.EvaluateAsync(wctx, waitAnimationsJS, nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn("animations did not finish: %v", err)
		}
	}

	if len(s.cfg.HideSelectors) > 0 {
		if err := page.Evaluate(ctx, fmt.Sprintf(hideJS, jsString(s.cfg.HideSelectors)), nil); err != nil {
			return fmt.Errorf("hide elements: %w", err)
		}
	}

	if len(s.cfg.MaskSelectors) > 0 {
		color := s.cfg.MaskColor
		if color == "" {
			color = "#FF00FF"
		}
		script := fmt.Sprintf(maskJS, jsString(color), jsString(s.cfg.MaskSelectors))
		if err := page.Evaluate(ctx, script, nil); err != nil {
			return fmt.Errorf("mask elements: %w", err)
		}
	}

	for _, r := range s.cfg.ReplaceText {
		script := fmt.Sprintf(replaceTextJS, jsString(r.Selector), jsString(r.Text))
		if err := page.Evaluate(ctx, script, nil); err != nil {
			return fmt.Errorf("replace text in %s: %w", r.Selector, err)
		}
	}

	return sleep(ctx, s.cfg.FinalDelay)
}

func (s *Stabilizer) runWait(ctx context.Context, page Page, ws config.WaitStrategy) error {
	wctx, cancel := withOptionalTimeout(ctx, ws.Timeout)
	defer cancel()

	switch ws.Type {
	case "selector":
		if ws.Selector == "" {
			return fmt.Errorf("selector wait needs a selector")
		}
		if ws.State == "hidden" {
			return waitHidden(wctx, page, ws.Selector)
		}
		if err := page.WaitVisible(wctx, ws.Selector); err != nil {
			return fmt.Errorf("%s: %w", ws.Selector, err)
		}
		return nil
	case "network":
		return page.WaitNetworkIdle(wctx, 500*time.Millisecond)
	case "delay":
		return sleep(wctx, ws.Duration)
	default:
		return fmt.Errorf("unknown wait strategy type %q", ws.Type)
	}
}

func waitHidden(ctx context.Context, page Page, selector string) error {
	script := fmt.Sprintf(isHiddenJS, jsString(selector))
	for {
		var hidden bool
		if err := page.Evaluate(ctx, script, &hidden); err != nil {
			return err
		}
		if hidden {
			return nil
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return fmt.Errorf("waiting for %s to hide: %w", selector, err)
		}
	}
}

// CaptureConsistent takes at least two screenshots with a delay between them
// and returns the last one once the final two differ by no more than the
// configured ratio
func (s *Stabilizer) CaptureConsistent(ctx context.Context, page Page, selector string, fullPage bool) ([]byte, error) {
	attempts := s.cfg.Consistency.Attempts
	if attempts < 2 {
		attempts = 2
	}

	var prev, last []byte
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, s.cfg.Consistency.Delay); err != nil {
				return nil, err
			}
		}
		shot, err := page.Screenshot(ctx, selector, fullPage)
		if err != nil {
			return nil, err
		}
		prev, last = last, shot
	}

	a, _, err := image.Decode(bytes.NewReader(prev))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	b, _, err := image.Decode(bytes.NewReader(last))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	diff, img, err := compare.DiffImages(a, b, 0.1, true)
	if err != nil {
		return nil, err
	}
	total := img.Bounds().Dx() * img.Bounds().Dy()
	ratio := 0.0
	if total > 0 {
		ratio = float64(diff) / float64(total)
	}
	if ratio > s.cfg.Consistency.Threshold {
		return nil, fmt.Errorf("%w: last two shots differ by %.4f%%", ErrNotConsistent, ratio*100)
	}
	return last, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
