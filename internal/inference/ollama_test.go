package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		generator *Ollama
		opts      Options
		cpuOnly   bool
		captured  map[string]any
		raw       string
		err       error
	)

	const prompt = "### Instruction:\nparse\n### Input:\n### Output:\n"

	captureBody := func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(r.Body)
		Expect(readErr).NotTo(HaveOccurred())
		captured = map[string]any{}
		Expect(json.Unmarshal(body, &captured)).To(Succeed())
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		opts = Options{}
		cpuOnly = false
		captured = nil
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		var newErr error
		generator, newErr = NewOllama(server.URL()+"/", "receipt-model", opts)
		Expect(newErr).NotTo(HaveOccurred())
		generator.SetCPUOnly(cpuOnly)
		raw, err = generator.Generate(context.Background(), prompt)
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/generate"),
				ghttp.VerifyContentType("application/json"),
				captureBody,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"response": `{"total": "3.50"}`,
					"done":     true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should echo the prompt before the answer", func() {
			Expect(raw).To(Equal(prompt + `{"total": "3.50"}`))
		})

		It("should send the prompt untemplated", func() {
			Expect(captured["raw"]).To(BeTrue())
			Expect(captured["stream"]).To(BeFalse())
			Expect(captured["model"]).To(Equal("receipt-model"))
			Expect(captured["prompt"]).To(Equal(prompt))
		})

		It("should decode greedily", func() {
			options := captured["options"].(map[string]any)
			Expect(options["temperature"]).To(BeNumerically("==", 0))
			Expect(options["num_predict"]).To(BeNumerically("==", DefaultMaxNewTokens))
			Expect(options).NotTo(HaveKey("num_gpu"))
			Expect(options).NotTo(HaveKey("num_ctx"))
		})
	})

	When("the profile is CPU only with an input budget", func() {
		BeforeEach(func() {
			cpuOnly = true
			opts = Options{MaxNewTokens: 64, MaxInputTokens: 1000}
			server.AppendHandlers(ghttp.CombineHandlers(
				captureBody,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"response": "{}"}),
			))
		})

		It("should keep every layer off the GPU", func() {
			Expect(err).NotTo(HaveOccurred())
			options := captured["options"].(map[string]any)
			Expect(options["num_gpu"]).To(BeNumerically("==", 0))
			Expect(options["num_ctx"]).To(BeNumerically("==", 1064))
			Expect(options["num_predict"]).To(BeNumerically("==", 64))
		})
	})

	When("the backend reports an error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]string{
				"error": "model requires more system memory",
			}))
		})

		It("should return an InferenceError with the backend message", func() {
			var ie *InferenceError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(ie.Backend).To(Equal("ollama"))
			Expect(err.Error()).To(ContainSubstring("model requires more system memory"))
		})

		It("should return no generation", func() {
			Expect(raw).To(BeEmpty())
		})
	})

	When("the backend returns a non-JSON error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "upstream down"))
		})

		It("should include the body", func() {
			Expect(err).To(MatchError(ContainSubstring("upstream down")))
		})
	})

	It("should require a model name", func() {
		_, newErr := NewOllama("", "", Options{})
		Expect(newErr).To(HaveOccurred())
	})
})

var _ = Describe("Ollama deadlines", func() {
	var server *ghttp.Server

	BeforeEach(func() {
		server = ghttp.NewServer()
		server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
	})

	AfterEach(func() {
		server.Close()
	})

	It("should surface the deadline as an InferenceError", func() {
		generator, err := NewOllama(server.URL(), "receipt-model", Options{})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = generator.Generate(ctx, "prompt")
		var ie *InferenceError
		Expect(errors.As(err, &ie)).To(BeTrue())
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})
})

var _ = Describe("Ollama determinism", func() {
	var (
		server *ghttp.Server
		bodies []string
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		bodies = nil
		// Greedy requests always get the same answer; sampled ones never do
		server.RouteToHandler(http.MethodPost, "/api/generate", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			Expect(err).NotTo(HaveOccurred())
			bodies = append(bodies, string(body))

			var req ollamaGenerateRequest
			Expect(json.Unmarshal(body, &req)).To(Succeed())
			answer := `{"total": "3.50"}`
			if req.Options.Temperature != 0 {
				answer = time.Now().String()
			}
			json.NewEncoder(w).Encode(map[string]any{"response": answer, "done": true})
		})
	})

	AfterEach(func() {
		server.Close()
	})

	It("should return identical generations for the same prompt", func() {
		generator, err := NewOllama(server.URL(), "receipt-model", Options{Seed: 42})
		Expect(err).NotTo(HaveOccurred())

		first, err := generator.Generate(context.Background(), "### Output:\n")
		Expect(err).NotTo(HaveOccurred())
		second, err := generator.Generate(context.Background(), "### Output:\n")
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(bodies).To(HaveLen(2))
		Expect(bodies[1]).To(Equal(bodies[0]))
		Expect(bodies[0]).To(ContainSubstring(`"seed":42`))
	})
})
