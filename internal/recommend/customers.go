package recommend

import "strings"

// Category is a company classification
type Category string

const (
	CategoryInternal   Category = "internal"
	CategoryCompetitor Category = "competitor"
	CategoryCustomer   Category = "customer"
	CategoryProspect   Category = "prospect"
	CategoryOther      Category = "other"
)

// Classifier maps a company name to a category
type Classifier interface {
	Classify(company string) Category
}

// CustomerList classifies companies by exact match against a list of known
// customers after normalization
type CustomerList struct {
	customers map[string]bool
}

// NewCustomerList builds a classifier from company names
func NewCustomerList(companies []string) *CustomerList {
	list := &CustomerList{customers: make(map[string]bool, len(companies))}
	for _, c := range companies {
		if n := NormalizeCompany(c); n != "" {
			list.customers[n] = true
		}
	}
	return list
}

// Classify returns CategoryCustomer for known customers and CategoryOther
// for everything else
func (l *CustomerList) Classify(company string) Category {
	if l == nil {
		return CategoryOther
	}
	if n := NormalizeCompany(company); n != "" && l.customers[n] {
		return CategoryCustomer
	}
	return CategoryOther
}

// NormalizeCompany lowercases a company name, drops a leading "@" as GitHub
// profiles often carry, and collapses whitespace
func NormalizeCompany(company string) string {
	company = strings.TrimSpace(company)
	company = strings.TrimPrefix(company, "@")
	return strings.ToLower(strings.Join(strings.Fields(company), " "))
}

func isCustomer(c Classifier, company string) bool {
	if c == nil || strings.TrimSpace(company) == "" {
		return false
	}
	return c.Classify(company) == CategoryCustomer
}
