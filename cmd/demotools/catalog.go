package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/nugget/talentscout/internal/mcp"
)

// layoffBatch is how many people get_recent_layoffs_from reports.
const layoffBatch = 5

// catalog holds the canned data behind the demo tools.
type catalog struct {
	companies []string
}

func newCatalog() *catalog {
	return &catalog{companies: []string{"Google", "Anthropic", "Meta", "OpenAI"}}
}

type layoffsArgs struct {
	Company string `json:"company" jsonschema:"description=Company name"`
}

type compatibilityArgs struct {
	RoleDescription string `json:"role_description" jsonschema:"description=Description of the open role"`
	Person          string `json:"person" jsonschema:"description=Full name of the candidate"`
}

func (c *catalog) tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTypedTool("get_ai_companies",
			"Return a list of the top AI companies.",
			func(ctx context.Context, _ struct{}) (string, error) {
				return toJSON(c.companies)
			}),
		mcp.NewTypedTool("get_recent_layoffs_from",
			"Get a list of people laid off from the company recently.",
			func(ctx context.Context, args layoffsArgs) (string, error) {
				people, err := c.layoffs(args.Company)
				if err != nil {
					return "", err
				}
				return toJSON(people)
			}),
		mcp.NewTypedTool("get_person_compatibility",
			"Get a number between 0 and 1 describing how well the person (by name) fits the role description. 1 is most compatible.",
			func(ctx context.Context, args compatibilityArgs) (string, error) {
				score, err := compatibility(args.RoleDescription, args.Person)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%.2f", score), nil
			}),
	}
}

// layoffs invents a batch of names for company.
func (c *catalog) layoffs(company string) ([]string, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, errors.New("company is required")
	}
	people := make([]string, layoffBatch)
	for i := range people {
		people[i] = fmt.Sprintf("%s%d", company, i)
	}
	return people, nil
}

// compatibility scores person against role. The score is a stable hash
// of the pair so repeated calls agree.
func compatibility(role, person string) (float64, error) {
	role = strings.TrimSpace(role)
	person = strings.TrimSpace(person)
	if role == "" || person == "" {
		return 0, errors.New("role_description and person are required")
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(person)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(role)))
	return float64(h.Sum32()%101) / 100, nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
