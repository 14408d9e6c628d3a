package receipt_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-parser/internal/extract"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/pipeline"
	"github.com/zombor/receipt-parser/internal/receipt"
)

// stubEngine returns fixed regions for any image
type stubEngine struct {
	regions ocr.Result
}

func (e *stubEngine) Extract(ctx context.Context, img image.Image) (ocr.Result, error) {
	return e.regions, nil
}

// echoGenerator echoes the prompt and appends a fixed answer
type echoGenerator struct {
	answer  string
	prompts []string
}

func (g *echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return prompt + " " + g.answer, nil
}

func pngImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir   string
		db        *receipt.BoltDB
		store     receipt.Storage
		generator *echoGenerator
		service   *receipt.Service
		server    *receipt.Server
		ghServer  *ghttp.Server
		answer    string
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		answer = `{"store_name": "Corner Cafe", "total": "3.50", "items": [{"item": "COFFEE", "price": "3.50"}]}`
		generator = &echoGenerator{answer: answer}
		engine := &stubEngine{regions: ocr.Result{
			{Box: ocr.RectPolygon(image.Rect(10, 20, 110, 40)), Text: "COFFEE", Confidence: 0.98},
			{Box: ocr.RectPolygon(image.Rect(150, 20, 210, 40)), Text: "$3.50", Confidence: 0.95},
		}}

		p := pipeline.New(engine, generator, extract.New(extract.ModeFixed), pipeline.WithOCRConcurrency(1))
		service = receipt.NewService(db, p, store)
		server = receipt.NewServer(service, receipt.BasicAuth{}, receipt.Info{Version: "test"})

		ghServer = ghttp.NewServer()
		ghServer.RouteToHandler(http.MethodPost, "/prompt", server.ServeHTTP)
		ghServer.RouteToHandler(http.MethodPost, "/api/scans", server.ServeHTTP)
		ghServer.RouteToHandler(http.MethodGet, "/api/scans", server.ServeHTTP)
		ghServer.RouteToHandler(http.MethodGet, regexp.MustCompile(`^/api/scans/[^/]+$`), server.ServeHTTP)
	})

	AfterEach(func() {
		ghServer.Close()
		db.Close()
	})

	It("should return the structured receipt for a base64 image", func() {
		body, err := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(pngImage())})
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Post(ghServer.URL()+"/prompt", "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(answer))

		Expect(generator.prompts).To(HaveLen(1))
		Expect(generator.prompts[0]).To(ContainSubstring("[[[10.0, 20.0], [110.0, 20.0], [110.0, 40.0], [10.0, 40.0]], ('COFFEE', 0.98)]"))
		Expect(generator.prompts[0]).To(HaveSuffix("### Output:\n"))
	})

	It("should reject an empty image without calling the model", func() {
		resp, err := http.Post(ghServer.URL()+"/prompt", "application/json", strings.NewReader(`{"image": ""}`))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(generator.prompts).To(BeEmpty())
	})

	It("should record, list and fetch an uploaded scan", func() {
		By("uploading the receipt")
		buf := &bytes.Buffer{}
		writer := multipart.NewWriter(buf)
		part, err := writer.CreateFormFile("file", "coffee.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(pngImage())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/scans", writer.FormDataContentType(), buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var created receipt.Scan
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		resp.Body.Close()

		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.Receipt).To(Equal(answer))
		Expect(created.RegionCount).To(Equal(2))
		Expect(created.ContentType).To(Equal("image/png"))
		Expect(created.Summary.Merchant).To(Equal("Corner Cafe"))
		Expect(created.Summary.ItemCount).To(Equal(1))
		Expect(filepath.Join(tempDir, "uploads", created.StoredPath)).To(BeARegularFile())

		By("listing scans")
		resp, err = http.Get(ghServer.URL() + "/api/scans")
		Expect(err).NotTo(HaveOccurred())
		var scans []*receipt.Scan
		Expect(json.NewDecoder(resp.Body).Decode(&scans)).To(Succeed())
		resp.Body.Close()
		Expect(scans).To(HaveLen(1))
		Expect(scans[0].ID).To(Equal(created.ID))

		By("fetching the scan")
		resp, err = http.Get(ghServer.URL() + "/api/scans/" + created.ID)
		Expect(err).NotTo(HaveOccurred())
		var fetched receipt.Scan
		Expect(json.NewDecoder(resp.Body).Decode(&fetched)).To(Succeed())
		resp.Body.Close()
		Expect(fetched.Receipt).To(Equal(answer))
	})
})
