package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/bill-decoder/internal/bill"
)

// blockingExtractor waits until the request context is done
type blockingExtractor struct{}

func (blockingExtractor) ExtractText(ctx context.Context, doc bill.Document) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func multipartBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeJSON(resp *http.Response, v any) {
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		extractor   *mockExtractor
		storage     *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		timeout     time.Duration
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, timeout, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		extractor = newMockExtractor(sampleBill)
		storage = newMockStorage()
		service = NewServiceWithDeps(db, extractor, newTestScorer(), storage,
			&mockIDGenerator{prefix: "bill"}, &mockTimeSource{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		timeout = time.Minute
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	upload := func(filename, contentType string, data []byte) *http.Response {
		body, formType := multipartBody("file", filename, contentType, data)
		resp, err := http.Post(ghttpServer.URL()+"/api/bills", formType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleHealth", func() {
		It("should return ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("ok"))
		})
	})

	Describe("handleUploadBill", func() {
		When("the bill decodes cleanly", func() {
			It("should return status Created with the decode", func() {
				resp := upload("bill.pdf", bill.MediaTypePDF, []byte("%PDF-1.4"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var decode Decode
				decodeJSON(resp, &decode)
				Expect(decode.ID).To(Equal("bill-1"))
				Expect(decode.Fields.BilledAmount.Decimal.StringFixed(2)).To(Equal("500.00"))
				Expect(decode.Verdict.Severity).To(Equal(bill.SeverityHigh))
				Expect(decode.Plan).NotTo(BeNil())
			})
		})

		When("the part has no content type", func() {
			It("should infer it from the extension", func() {
				resp := upload("photo.HEIC", "", []byte("data"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(extractor.docs).To(HaveLen(1))
				Expect(extractor.docs[0].MediaType).To(Equal(bill.MediaTypeHEIC))
			})
		})

		When("the document is unreadable", func() {
			BeforeEach(func() {
				extractor.err = fmt.Errorf("%w: no text found", bill.ErrUnreadableDocument)
			})

			It("should return status Unprocessable Entity", func() {
				resp := upload("bill.pdf", bill.MediaTypePDF, []byte("%PDF-1.4"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body map[string]string
				decodeJSON(resp, &body)
				Expect(body["error"]).To(Equal("Could not extract text from file"))
			})
		})

		When("no amounts are found", func() {
			BeforeEach(func() {
				extractor.text = "Thank you for your visit"
			})

			It("should return status Unprocessable Entity with the partial decode", func() {
				resp := upload("bill.png", bill.MediaTypePNG, []byte("png"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var decode Decode
				decodeJSON(resp, &decode)
				Expect(decode.ID).To(Equal("bill-1"))
				Expect(decode.Error).To(ContainSubstring("incomplete bill data"))
				Expect(decode.Plan).To(BeNil())
			})
		})

		When("decoding takes too long", func() {
			BeforeEach(func() {
				service = NewServiceWithDeps(db, blockingExtractor{}, newTestScorer(), storage,
					&mockIDGenerator{prefix: "bill"}, &mockTimeSource{})
				timeout = 20 * time.Millisecond
			})

			It("should return status Gateway Timeout", func() {
				resp := upload("bill.pdf", bill.MediaTypePDF, []byte("%PDF-1.4"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("database locked")
			})

			It("should return status Internal Server Error", func() {
				resp := upload("bill.pdf", bill.MediaTypePDF, []byte("%PDF-1.4"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("the form has no file", func() {
			It("should return status Bad Request", func() {
				body, formType := multipartBody("other", "bill.pdf", bill.MediaTypePDF, []byte("x"))
				resp, err := http.Post(ghttpServer.URL()+"/api/bills", formType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the body is not a multipart form", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/bills", "application/json", bytes.NewBufferString("{}"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleListDecodes", func() {
		When("decodes exist", func() {
			BeforeEach(func() {
				db.decodes["id1"] = &Decode{ID: "id1", Filename: "a.pdf"}
				db.decodes["id2"] = &Decode{ID: "id2", Filename: "b.pdf"}
			})

			It("should return all decodes", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var decodes []*Decode
				decodeJSON(resp, &decodes)
				Expect(decodes).To(HaveLen(2))
			})
		})

		When("no decodes exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(bytes.TrimSpace(body))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleGetDecode", func() {
		BeforeEach(func() {
			db.decodes["id1"] = &Decode{ID: "id1", Filename: "a.pdf"}
		})

		It("should return the decode", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/bills/id1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var decode Decode
			decodeJSON(resp, &decode)
			Expect(decode.Filename).To(Equal("a.pdf"))
		})

		It("should return status Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/bills/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetDecodeFile", func() {
		BeforeEach(func() {
			db.decodes["id1"] = &Decode{ID: "id1", StoredFile: "id1_a.pdf", ContentType: bill.MediaTypePDF}
			storage.files["id1_a.pdf"] = []byte("%PDF-1.4")
		})

		It("should return the kept file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/bills/id1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(bill.MediaTypePDF))
			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(Equal([]byte("%PDF-1.4")))
		})

		It("should return status Not Found when nothing was kept", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/bills/missing/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleDeleteDecode", func() {
		BeforeEach(func() {
			db.decodes["id1"] = &Decode{ID: "id1"}
		})

		It("should return status No Content", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/bills/id1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.decodes).NotTo(HaveKey("id1"))
		})

		It("should return status Internal Server Error for unknown IDs", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/bills/missing", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/bills")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bill Decoder"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
