package seed

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/querygate/querygate/internal/query"
)

type Sizes struct {
	Authors   int
	Books     int
	Borrowers int
}

func DefaultSizes() Sizes {
	return Sizes{Authors: 12, Books: 40, Borrowers: 120}
}

// Table is one generated table in result form so it can go through the
// export encoders unchanged.
type Table struct {
	Name   string
	Result query.Result
}

type author struct {
	first, last, nationality string
	titles                   []book
}

type book struct {
	title string
	year  int64
	genre string
}

// catalog seeds the first authors so questions about well-known writers have
// stable answers regardless of the seed.
var catalog = []author{
	{"George", "Orwell", "British", []book{{"1984", 1949, "Dystopian"}, {"Animal Farm", 1945, "Satire"}}},
	{"Jane", "Austen", "British", []book{{"Pride and Prejudice", 1813, "Romance"}, {"Emma", 1815, "Romance"}}},
	{"Gabriel", "Garcia Marquez", "Colombian", []book{{"One Hundred Years of Solitude", 1967, "Magical Realism"}}},
	{"Toni", "Morrison", "American", []book{{"Beloved", 1987, "Historical Fiction"}}},
	{"Haruki", "Murakami", "Japanese", []book{{"Norwegian Wood", 1987, "Literary Fiction"}, {"Kafka on the Shore", 2002, "Magical Realism"}}},
	{"Chinua", "Achebe", "Nigerian", []book{{"Things Fall Apart", 1958, "Literary Fiction"}}},
}

var (
	firstNames    = []string{"Ada", "Ben", "Clara", "Dev", "Elif", "Femi", "Greta", "Hugo", "Ines", "Jonas", "Kira", "Luca", "Mina", "Noor", "Omar", "Pia"}
	lastNames     = []string{"Berg", "Costa", "Dubois", "Eze", "Fischer", "Garcia", "Hansen", "Ito", "Jensen", "Kowalski", "Lopez", "Moreau", "Novak", "Okafor"}
	nationalities = []string{"American", "British", "Canadian", "French", "German", "Indian", "Irish", "Italian", "Spanish"}
	genres        = []string{"Mystery", "Science Fiction", "Fantasy", "Biography", "History", "Poetry", "Thriller"}
	titleWords    = []string{"Silent", "River", "Glass", "Winter", "Harbor", "Lantern", "Orchard", "Signal", "Atlas", "Ember", "Meridian", "Quiet"}
)

// Generator produces the lending-library tables. The same seed always yields
// the same rows.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Library returns Authors, Books and Borrowers in that order. Sizes below the
// fixed catalog are raised to fit it.
func (g *Generator) Library(sizes Sizes) ([]Table, error) {
	if sizes.Authors < 0 || sizes.Books < 0 || sizes.Borrowers < 0 {
		return nil, fmt.Errorf("sizes must not be negative")
	}
	catalogBooks := 0
	for _, a := range catalog {
		catalogBooks += len(a.titles)
	}
	sizes.Authors = max(sizes.Authors, len(catalog))
	sizes.Books = max(sizes.Books, catalogBooks)

	authors := query.Result{Columns: []string{"author_id", "first_name", "last_name", "nationality"}}
	books := query.Result{Columns: []string{"book_id", "title", "author_id", "publication_year", "genre"}}

	var bookID int64
	for i := 0; i < sizes.Authors; i++ {
		authorID := int64(i + 1)
		if i < len(catalog) {
			a := catalog[i]
			authors.Rows = append(authors.Rows, []any{authorID, a.first, a.last, a.nationality})
			for _, b := range a.titles {
				bookID++
				books.Rows = append(books.Rows, []any{bookID, b.title, authorID, b.year, b.genre})
			}
			continue
		}
		authors.Rows = append(authors.Rows, []any{
			authorID,
			pickOne(g.rnd, firstNames),
			pickOne(g.rnd, lastNames),
			pickOne(g.rnd, nationalities),
		})
	}

	for bookID < int64(sizes.Books) {
		bookID++
		// generated titles go to generated authors when there are any
		authorID := int64(g.rnd.Intn(sizes.Authors) + 1)
		if sizes.Authors > len(catalog) {
			authorID = int64(len(catalog) + g.rnd.Intn(sizes.Authors-len(catalog)) + 1)
		}
		title := fmt.Sprintf("The %s %s", pickOne(g.rnd, titleWords), pickOne(g.rnd, titleWords))
		year := int64(1950 + g.rnd.Intn(75))
		books.Rows = append(books.Rows, []any{bookID, title, authorID, year, pickOne(g.rnd, genres)})
	}

	borrowers := query.Result{Columns: []string{"borrower_id", "book_id", "borrower_name", "borrow_date"}}
	today := g.now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < sizes.Borrowers; i++ {
		borrowers.Rows = append(borrowers.Rows, []any{
			int64(i + 1),
			int64(g.rnd.Intn(len(books.Rows)) + 1),
			pickOne(g.rnd, firstNames) + " " + pickOne(g.rnd, lastNames),
			today.AddDate(0, 0, -g.rnd.Intn(365)),
		})
	}

	return []Table{
		{Name: "Authors", Result: authors},
		{Name: "Books", Result: books},
		{Name: "Borrowers", Result: borrowers},
	}, nil
}

func pickOne(rnd *rand.Rand, values []string) string {
	return values[rnd.Intn(len(values))]
}
