package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Summarize", func() {
	var (
		text    string
		summary Summary
	)

	JustBeforeEach(func() {
		summary = Summarize(text)
	})

	When("the receipt is a flat object", func() {
		BeforeEach(func() {
			text = `{"store_name": "Corner Cafe", "date": "03/20/2024", "total": "$12.50", "items": [{"item": "COFFEE"}, {"item": "BAGEL"}]}`
		})

		It("should pick out every field", func() {
			Expect(summary.ValidJSON).To(BeTrue())
			Expect(summary.Merchant).To(Equal("Corner Cafe"))
			Expect(summary.Date).To(Equal("2024-03-20"))
			Expect(summary.Total.Valid).To(BeTrue())
			Expect(summary.Total.Decimal.StringFixed(2)).To(Equal("12.50"))
			Expect(summary.ItemCount).To(Equal(2))
		})
	})

	When("the fields are nested under a receipt key", func() {
		BeforeEach(func() {
			text = `{"receipt": {"Merchant": "Hardware Co", "Grand_Total": 1234.5, "line_items": []}, "total": "1.00"}`
		})

		It("should prefer the nested values", func() {
			Expect(summary.Merchant).To(Equal("Hardware Co"))
			Expect(summary.Total.Decimal.StringFixed(2)).To(Equal("1234.50"))
		})
	})

	When("the total uses thousands separators", func() {
		BeforeEach(func() {
			text = `{"total": "USD 1,234.56"}`
		})

		It("should drop the separators", func() {
			Expect(summary.Total.Decimal.StringFixed(2)).To(Equal("1234.56"))
		})
	})

	When("the total uses a decimal comma", func() {
		BeforeEach(func() {
			text = `{"total_amount": "12,50 €"}`
		})

		It("should read the comma as the decimal point", func() {
			Expect(summary.Total.Decimal.StringFixed(2)).To(Equal("12.50"))
		})
	})

	When("the total is not a number", func() {
		BeforeEach(func() {
			text = `{"total": "N/A"}`
		})

		It("should leave the total unset", func() {
			Expect(summary.ValidJSON).To(BeTrue())
			Expect(summary.Total.Valid).To(BeFalse())
		})
	})

	When("the object is wrapped in a code fence", func() {
		BeforeEach(func() {
			text = "```json\n{\"store\": \"Deli\"}\n```"
		})

		It("should still decode it", func() {
			Expect(summary.ValidJSON).To(BeTrue())
			Expect(summary.Merchant).To(Equal("Deli"))
		})
	})

	When("the date is in an unknown format", func() {
		BeforeEach(func() {
			text = `{"date": "March 20th"}`
		})

		It("should keep it as written", func() {
			Expect(summary.Date).To(Equal("March 20th"))
		})
	})

	When("the text is not JSON", func() {
		BeforeEach(func() {
			text = `store: Corner Cafe, total 3.50`
		})

		It("should return an empty summary", func() {
			Expect(summary.ValidJSON).To(BeFalse())
			Expect(summary.Merchant).To(BeEmpty())
			Expect(summary.Total.Valid).To(BeFalse())
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("should return an empty summary", func() {
			Expect(summary).To(Equal(Summary{}))
		})
	})
})
