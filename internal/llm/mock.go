package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
)

// MockClient permite correr el servicio y los tests sin un LLM real.
// Queue alimenta respuestas en orden; agotada la cola cae a Response, y si
// tampoco hay, genera un eco JSON determinista del último mensaje de usuario.
type MockClient struct {
	mu         sync.Mutex
	Response   string
	Err        error
	Queue      []string
	TokensUsed int

	// Requests registra cada request recibida, para inspección en tests.
	Requests []Request
}

func (m *MockClient) ChatCompletion(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.Err != nil {
		return Result{}, m.Err
	}

	reply := m.Response
	if len(m.Queue) > 0 {
		reply = m.Queue[0]
		m.Queue = m.Queue[1:]
	}
	if reply == "" {
		reply = echoReply(req)
	}

	tokens := m.TokensUsed
	if tokens == 0 {
		tokens = len(reply)/4 + 1
	}
	return Result{Reply: reply, TokensUsed: tokens}, nil
}

// Enqueue agrega respuestas a la cola (orden FIFO).
func (m *MockClient) Enqueue(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queue = append(m.Queue, replies...)
}

// CreateEmbedding devuelve un vector pseudoaleatorio determinista por texto,
// suficiente para que el índice en memoria sea estable entre corridas.
func (m *MockClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vec := make([]float32, 8)
	h := fnv.New32a()
	for i := range vec {
		h.Reset()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	return vec, nil
}

func echoReply(req Request) string {
	last := ""
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	out, _ := json.Marshal(map[string]any{
		"reply":         "(mock) " + last,
		"emotion_delta": 0,
		"intent":        "SMALL_TALK",
		"thought":       "",
		"is_nsfw":       false,
	})
	return string(out)
}
