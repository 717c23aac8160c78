package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	logpkg "github.com/kailas-cloud/llmgate/internal/logger"
	relayuc "github.com/kailas-cloud/llmgate/internal/usecase/relay"
)

// Debug route defaults.
const (
	debugDefaultModel    = "mistral"
	debugDefaultEndpoint = "generate"
	debugDefaultPrompt   = "Hello"
	debugTextLimit       = 500
)

// multipartMemory is how much of an upload is kept in memory before spilling to disk.
const multipartMemory = 8 << 20

// StatusReporter composes the /status payload.
type StatusReporter interface {
	Status(ctx context.Context) domain.ServiceStatus
}

// Relayer streams one generation as events.
type Relayer interface {
	Relay(ctx context.Context, model, prompt string) iter.Seq[domain.RelayEvent]
}

// Generator runs one non-streaming generation.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// DocumentAnswerer answers a question about an uploaded file.
type DocumentAnswerer interface {
	Answer(ctx context.Context, filename string, r io.Reader, question string) string
}

// RawPoster forwards an arbitrary request to the inference API.
type RawPoster interface {
	Raw(ctx context.Context, endpoint string, body any) (*domain.RawResponse, error)
}

// Models names the model behind each route.
type Models struct {
	Writing string
	Code    string
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Status    StatusReporter
	Relay     Relayer
	Generator Generator
	Docs      DocumentAnswerer
	Debug     RawPoster
	Logger    *zap.Logger
}

// Server implements the gateway routes.
type Server struct {
	status    StatusReporter
	relay     Relayer
	generator Generator
	docs      DocumentAnswerer
	debug     RawPoster
	models    Models
	maxUpload int64
	logger    *zap.Logger
}

// NewServer creates the HTTP handlers. maxUploadMB bounds the /ask/docs body.
func NewServer(models Models, maxUploadMB int, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		status:    deps.Status,
		relay:     deps.Relay,
		generator: deps.Generator,
		docs:      deps.Docs,
		debug:     deps.Debug,
		models:    models,
		maxUpload: int64(maxUploadMB) << 20,
		logger:    log,
	}
}

// promptRequest is the body of POST /ask/{writing,code}.
type promptRequest struct {
	Prompt string `json:"prompt"`
}

// answerResponse is the body of every /ask reply.
type answerResponse struct {
	Response string `json:"response"`
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

// Health handles GET /health. It only says the gateway process answers.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StreamWriting handles GET /ask/writing.
func (s *Server) StreamWriting(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, s.models.Writing)
}

// StreamCode handles GET /ask/code.
func (s *Server) StreamCode(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, s.models.Code)
}

// AskWriting handles POST /ask/writing.
func (s *Server) AskWriting(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.models.Writing)
}

// AskCode handles POST /ask/code.
func (s *Server) AskCode(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.models.Code)
}

// stream relays one generation as server-sent events until the upstream ends or the client leaves.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, model string) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	prompt := r.URL.Query().Get("prompt")

	rc := http.NewResponseController(w)
	clearWriteDeadline(rc)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	var events int
	for ev := range s.relay.Relay(r.Context(), model, prompt) {
		if _, err := w.Write(relayuc.EncodeEvent(ev)); err != nil {
			log.Debug("Client stopped reading stream", zap.Int("events", events), zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			log.Debug("Flush failed", zap.Int("events", events), zap.Error(err))
			return
		}
		events++
	}
}

// ask runs a single-shot generation. Failures are reported in the response text with status 200.
func (s *Server) ask(w http.ResponseWriter, r *http.Request, model string) {
	clearWriteDeadline(http.NewResponseController(w))

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAnswer(w, "Error: invalid request body: "+err.Error())
		return
	}

	text, err := s.generator.Generate(r.Context(), model, req.Prompt)
	if err != nil {
		logpkg.FromContextOr(r.Context(), s.logger).Warn("Generate failed",
			zap.String("model", model),
			zap.Error(err),
		)
		writeAnswer(w, "Error: "+err.Error())
		return
	}
	writeAnswer(w, text)
}

// AskDocs handles POST /ask/docs with a multipart "file" and "question".
func (s *Server) AskDocs(w http.ResponseWriter, r *http.Request) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	clearWriteDeadline(http.NewResponseController(w))

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeAnswer(w, fmt.Sprintf("Error: upload exceeds %d MB", s.maxUpload>>20))
		case errors.Is(err, http.ErrNotMultipart):
			writeAnswer(w, "Error: No file uploaded")
		default:
			log.Warn("Invalid multipart upload", zap.Error(err))
			writeAnswer(w, "Error: "+err.Error())
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAnswer(w, "Error: No file uploaded")
		return
	}
	defer file.Close()

	question := r.FormValue("question")
	if strings.TrimSpace(question) == "" {
		writeAnswer(w, "Error: No question provided")
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	answer := s.docs.Answer(ctx, header.Filename, file, question)

	setEmbeddingHeaders(w, usage)
	writeAnswer(w, answer)
}

// debugRequest is the body of POST /debug/ollama. Absent fields take the defaults.
type debugRequest struct {
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	Prompt   string `json:"prompt"`
}

type debugResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	JSON       json.RawMessage   `json:"json,omitempty"`
	Text       *string           `json:"text,omitempty"`
}

// DebugOllama handles POST /debug/ollama: it forwards {model, prompt} to /api/<endpoint>
// and reports what came back.
func (s *Server) DebugOllama(w http.ResponseWriter, r *http.Request) {
	req := debugRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Model == "" {
		req.Model = debugDefaultModel
	}
	if req.Endpoint == "" {
		req.Endpoint = debugDefaultEndpoint
	}
	if req.Prompt == "" {
		req.Prompt = debugDefaultPrompt
	}

	resp, err := s.debug.Raw(r.Context(), req.Endpoint, map[string]string{
		"model":  req.Model,
		"prompt": req.Prompt,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}

	out := debugResponse{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
	}
	if len(resp.Body) > 0 && json.Valid(resp.Body) {
		out.JSON = json.RawMessage(resp.Body)
	} else {
		text := truncateRunes(strings.ToValidUTF8(string(resp.Body), "�"), debugTextLimit)
		out.Text = &text
	}
	writeJSON(w, http.StatusOK, out)
}

// clearWriteDeadline lifts the server write timeout for generation routes.
// Their duration is bounded by the upstream client timeouts and the request context.
func clearWriteDeadline(rc *http.ResponseController) {
	_ = rc.SetWriteDeadline(time.Time{})
}

// flattenHeader joins repeated header values with ", ".
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func writeAnswer(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, answerResponse{Response: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
