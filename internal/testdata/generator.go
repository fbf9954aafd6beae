package testdata

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// DefaultSeed keeps generated data reproducible across runs.
const DefaultSeed uint64 = 42

const (
	writeKeyLength   = 32
	writeKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sourceTypeHTTP   = "HTTP"
	destinationType  = "Webhook"
	currencyUSD      = "USD"
)

var (
	productNames = []string{"Ergonomic Chair", "Wireless Mouse", "Standing Desk", "Noise Cancelling Headphones", "Mechanical Keyboard"}
	categories   = []string{"furniture", "electronics", "office", "audio", "accessories"}
	brands       = []string{"Acme", "Globex", "Initech", "Umbrella", "Hooli"}
	colors       = []string{"black", "white", "silver", "navy", "red"}
	sizes        = []string{"S", "M", "L", "XL"}
	words        = []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	locales      = []string{"en_US", "en_GB", "de_DE", "fr_FR"}
	timezones    = []string{"America/New_York", "Europe/London", "Europe/Berlin", "Asia/Tokyo"}
	userAgents   = []string{
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	}
)

// Source is an event source as discovered in the UI.
type Source struct {
	Name         string
	Type         string
	WriteKey     string
	DataPlaneURL string
}

// Destination is a webhook destination as configured in the UI.
type Destination struct {
	Name       string
	Type       string
	WebhookURL string
	Config     map[string]any
}

// Generator produces deterministic test data for a seed. It is safe for concurrent use.
type Generator struct {
	mutex  sync.Mutex
	random *rand.Rand
	stream *rand.ChaCha8
}

func NewGenerator(seed uint64) *Generator {
	var seedBytes [32]byte
	binary.LittleEndian.PutUint64(seedBytes[:8], seed)
	stream := rand.NewChaCha8(seedBytes)
	return &Generator{random: rand.New(stream), stream: stream}
}

// UUID returns the next identifier from the seeded stream.
func (generator *Generator) UUID() string {
	generator.mutex.Lock()
	defer generator.mutex.Unlock()
	return generator.uuidLocked()
}

// WriteKey returns a 32 character alphanumeric key.
func (generator *Generator) WriteKey() string {
	generator.mutex.Lock()
	defer generator.mutex.Unlock()
	key := make([]byte, writeKeyLength)
	for index := range key {
		key[index] = writeKeyAlphabet[generator.random.IntN(len(writeKeyAlphabet))]
	}
	return string(key)
}

// Event returns an event named eventName with generated properties and context.
func (generator *Generator) Event(eventName string) Event {
	event := NewEventBuilder().
		Name(eventName).
		UserID(generator.UUID()).
		Properties(generator.Properties()).
		Build()
	event.Context = generator.Context()
	return event
}

// Properties returns a product-like property bag.
func (generator *Generator) Properties() map[string]any {
	generator.mutex.Lock()
	defer generator.mutex.Unlock()
	return map[string]any{
		"product_id":   generator.uuidLocked(),
		"product_name": generator.pick(productNames),
		"price":        roundCents(10 + generator.random.Float64()*990),
		"quantity":     1 + generator.random.IntN(10),
		"category":     generator.pick(categories),
		"brand":        generator.pick(brands),
		"color":        generator.pick(colors),
		"size":         generator.pick(sizes),
		"currency":     currencyUSD,
		"discount":     roundCents(generator.random.Float64() * 0.5),
	}
}

// Context returns a browser-like context bag.
func (generator *Generator) Context() map[string]any {
	generator.mutex.Lock()
	defer generator.mutex.Unlock()
	return map[string]any{
		"page": map[string]any{
			"url":      fmt.Sprintf("https://shop.example.com/%s", generator.pick(words)),
			"title":    fmt.Sprintf("%s %s", generator.pick(productNames), generator.pick(words)),
			"referrer": fmt.Sprintf("https://search.example.com/?q=%s", generator.pick(words)),
		},
		"userAgent": generator.pick(userAgents),
		"ip":        fmt.Sprintf("10.%d.%d.%d", generator.random.IntN(256), generator.random.IntN(256), 1+generator.random.IntN(254)),
		"locale":    generator.pick(locales),
		"timezone":  generator.pick(timezones),
		"screen": map[string]any{
			"width":  800 + generator.random.IntN(1761),
			"height": 600 + generator.random.IntN(841),
		},
		"campaign": map[string]any{
			"name":   generator.pick(words),
			"source": generator.pick(words),
			"medium": generator.pick(words),
			"term":   generator.pick(words),
		},
	}
}

// Source returns an HTTP source pointing at dataPlaneURL.
func (generator *Generator) Source(dataPlaneURL string) Source {
	generator.mutex.Lock()
	name := fmt.Sprintf("Test HTTP Source %s", generator.pick(words))
	generator.mutex.Unlock()
	return Source{Name: name, Type: sourceTypeHTTP, WriteKey: generator.WriteKey(), DataPlaneURL: dataPlaneURL}
}

// Destination returns a webhook destination posting to webhookURL.
func (generator *Generator) Destination(webhookURL string) Destination {
	generator.mutex.Lock()
	name := fmt.Sprintf("Test Webhook Destination %s", generator.pick(words))
	generator.mutex.Unlock()
	return Destination{
		Name:       name,
		Type:       destinationType,
		WebhookURL: webhookURL,
		Config: map[string]any{
			"url":    webhookURL,
			"method": "POST",
			"headers": map[string]string{
				"Content-Type": "application/json",
			},
			"timeout":     30,
			"retry_count": 3,
		},
	}
}

func (generator *Generator) uuidLocked() string {
	identifier, err := uuid.NewRandomFromReader(generator.stream)
	if err != nil {
		return uuid.NewString()
	}
	return identifier.String()
}

func (generator *Generator) pick(values []string) string {
	return values[generator.random.IntN(len(values))]
}

func roundCents(value float64) float64 {
	return math.Round(value*100) / 100
}
