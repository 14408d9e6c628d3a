package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-parser/internal/extract"
)

var _ = Describe("OpenAI", func() {
	var (
		server    *ghttp.Server
		generator *OpenAI
		captured  map[string]any
		raw       string
		err       error
	)

	const prompt = "### Instruction:\nparse\n### Input:\n### Output:\n"

	completion := func(text string) map[string]any {
		return map[string]any{
			"id":      "cmpl-1",
			"object":  "text_completion",
			"created": 1700000000,
			"model":   "receipt-model",
			"choices": []map[string]any{
				{"text": text, "index": 0, "finish_reason": "stop"},
			},
		}
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		captured = nil
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		var newErr error
		generator, newErr = NewOpenAI("test-key", server.URL()+"/v1", "receipt-model", Options{MaxNewTokens: 128, Seed: 7})
		Expect(newErr).NotTo(HaveOccurred())
		raw, err = generator.Generate(context.Background(), prompt)
	})

	When("the server echoes the prompt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/v1/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, completion(prompt+`{"item":"COFFEE"}`)),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should not echo twice", func() {
			Expect(raw).To(Equal(prompt + `{"item":"COFFEE"}`))
		})

		It("should request a seeded completion without echo", func() {
			Expect(captured).NotTo(HaveKey("echo"))
			Expect(captured["seed"]).To(BeNumerically("==", 7))
			Expect(captured["max_tokens"]).To(BeNumerically("==", 128))
			Expect(captured["prompt"]).To(Equal(prompt))
			Expect(captured["temperature"]).To(BeNumerically("<", 1e-30))
		})
	})

	When("the server ignores echo", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, completion(`{"item":"COFFEE"}`)))
		})

		It("should prepend the prompt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal(prompt + `{"item":"COFFEE"}`))
		})
	})

	When("the echo starts with a decoded BOS token", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, completion("<s> "+prompt+`{"item":"COFFEE"}`)))
		})

		It("should keep a single copy of the prompt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal(prompt + `{"item":"COFFEE"}`))
		})

		It("should extract the answer rather than the prompt", func() {
			answer, extractErr := extract.New(extract.ModeFixed).Extract(raw)
			Expect(extractErr).NotTo(HaveOccurred())
			Expect(answer).To(Equal(`{"item":"COFFEE"}`))
		})
	})

	When("the server returns no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"id":      "cmpl-1",
				"object":  "text_completion",
				"choices": []any{},
			}))
		})

		It("should return ErrEmptyGeneration", func() {
			Expect(errors.Is(err, ErrEmptyGeneration)).To(BeTrue())
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"message": "model is loading", "type": "server_error"},
			}))
		})

		It("should return an InferenceError", func() {
			var ie *InferenceError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(ie.Backend).To(Equal("openai"))
		})
	})
})
