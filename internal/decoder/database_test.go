package decoder

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-decoder/internal/bill"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveDecode", func() {
		var (
			decode *Decode
			err    error
		)

		BeforeEach(func() {
			decode = &Decode{
				ID:          "test-id",
				Filename:    "bill.pdf",
				ContentType: bill.MediaTypePDF,
				Fields: bill.Fields{
					BilledAmount:          decimal.NewNullDecimal(decimal.RequireFromString("500.00")),
					PatientResponsibility: decimal.NewNullDecimal(decimal.RequireFromString("150.00")),
				},
				Verdict: bill.Verdict{
					IsOvercharged: true,
					Severity:      bill.SeverityModerate,
					Ratio:         decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
				},
				Plan:      &bill.ActionPlan{PhoneScript: "Hi", Checklist: []string{"one"}},
				CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveDecode(decode)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep the amounts exactly", func() {
				saved, getErr := db.GetDecode("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Fields.BilledAmount.Valid).To(BeTrue())
				Expect(saved.Fields.BilledAmount.Decimal.Equal(decimal.RequireFromString("500"))).To(BeTrue())
			})

			It("should keep unset amounts unset", func() {
				saved, getErr := db.GetDecode("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Fields.AllowedAmount.Valid).To(BeFalse())
				Expect(saved.Fields.InsurerPaid.Valid).To(BeFalse())
			})

			It("should keep the verdict and plan", func() {
				saved, getErr := db.GetDecode("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Verdict.Severity).To(Equal(bill.SeverityModerate))
				Expect(saved.Verdict.IsOvercharged).To(BeTrue())
				Expect(saved.Plan.Checklist).To(Equal([]string{"one"}))
				Expect(saved.CreatedAt.Equal(decode.CreatedAt)).To(BeTrue())
			})
		})

		When("the record already exists", func() {
			BeforeEach(func() {
				Expect(db.SaveDecode(&Decode{ID: "test-id", Filename: "old.pdf"})).To(Succeed())
			})

			It("should overwrite it", func() {
				saved, getErr := db.GetDecode("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Filename).To(Equal("bill.pdf"))
			})
		})
	})

	Describe("GetDecode", func() {
		When("the decode does not exist", func() {
			It("returns the error", func() {
				_, err := db.GetDecode("nonexistent")
				Expect(err).To(MatchError(errors.New("decode not found: nonexistent")))
			})
		})
	})

	Describe("ListDecodes", func() {
		var (
			decodes []*Decode
			err     error
		)

		JustBeforeEach(func() {
			decodes, err = db.ListDecodes()
		})

		When("decodes exist", func() {
			BeforeEach(func() {
				base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
				Expect(db.SaveDecode(&Decode{ID: "id1", CreatedAt: base})).To(Succeed())
				Expect(db.SaveDecode(&Decode{ID: "id2", CreatedAt: base.Add(time.Hour)})).To(Succeed())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return them newest first", func() {
				Expect(decodes).To(HaveLen(2))
				Expect(decodes[0].ID).To(Equal("id2"))
				Expect(decodes[1].ID).To(Equal("id1"))
			})
		})

		When("no decodes exist", func() {
			It("should return an empty, non-nil list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(decodes).NotTo(BeNil())
				Expect(decodes).To(BeEmpty())
			})
		})
	})

	Describe("DeleteDecode", func() {
		BeforeEach(func() {
			Expect(db.SaveDecode(&Decode{ID: "test-id"})).To(Succeed())
		})

		It("should remove the decode", func() {
			Expect(db.DeleteDecode("test-id")).To(Succeed())
			_, err := db.GetDecode("test-id")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("reopening", func() {
		It("should keep saved decodes", func() {
			Expect(db.SaveDecode(&Decode{ID: "persisted"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			saved, err := db.GetDecode("persisted")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.ID).To(Equal("persisted"))
		})
	})
})
