// record-seeder generates fake CRM and ERP records and pushes them through
// the ingest endpoint, for local development and load testing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	serverURL   = flag.String("server", "http://localhost:8086", "Syncline service URL")
	count       = flag.Int("count", 100, "Number of records to generate")
	interval    = flag.Duration("interval", 50*time.Millisecond, "Interval between records")
	sources     = flag.String("sources", "salesforce,hubspot,netsuite", "Comma-separated integration sources")
	entityTypes = flag.String("types", "contact,company,opportunity", "Comma-separated entity types")
	overlap     = flag.Float64("overlap", 0.3, "Fraction of records sharing a source_id with an earlier record, to exercise identity resolution")
)

type ingestRequest struct {
	Source      string                 `json:"source"`
	SourceID    string                 `json:"source_id"`
	EntityType  string                 `json:"entity_type"`
	RawData     map[string]interface{} `json:"raw_data"`
	SyncBatchID string                 `json:"sync_batch_id"`
}

func main() {
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	sourceList := strings.Split(*sources, ",")
	typeList := strings.Split(*entityTypes, ",")
	batchID := fmt.Sprintf("seed-%d", time.Now().Unix())

	log.Printf("Starting record seeder:")
	log.Printf("  Server: %s", *serverURL)
	log.Printf("  Records: %d", *count)
	log.Printf("  Sources: %v", sourceList)
	log.Printf("  Entity types: %v", typeList)

	client := &http.Client{Timeout: 10 * time.Second}

	var seen []string
	successCount := 0
	failCount := 0

	for i := 0; i < *count; i++ {
		source := sourceList[rand.Intn(len(sourceList))]
		entityType := typeList[rand.Intn(len(typeList))]

		sourceID := fmt.Sprintf("%s-%06d", entityType, rand.Intn(1_000_000))
		if len(seen) > 0 && rand.Float64() < *overlap {
			sourceID = seen[rand.Intn(len(seen))]
		} else {
			seen = append(seen, sourceID)
		}

		req := ingestRequest{
			Source:      source,
			SourceID:    sourceID,
			EntityType:  entityType,
			RawData:     generateRecord(source, entityType),
			SyncBatchID: batchID,
		}

		if err := send(client, req); err != nil {
			log.Printf("Failed to ingest record: %v", err)
			failCount++
		} else {
			successCount++
			if successCount%50 == 0 {
				log.Printf("Progress: %d/%d records ingested", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("Done: %d ingested, %d failed", successCount, failCount)
}

// generateRecord produces field names matching each source's native schema
// so the normalization rules have something real to map.
func generateRecord(source, entityType string) map[string]interface{} {
	switch entityType {
	case "contact":
		switch source {
		case "salesforce":
			return map[string]interface{}{
				"Email":     gofakeit.Email(),
				"FirstName": gofakeit.FirstName(),
				"LastName":  gofakeit.LastName(),
				"Title":     gofakeit.JobTitle(),
				"Phone":     gofakeit.Phone(),
			}
		case "hubspot":
			return map[string]interface{}{
				"email":     gofakeit.Email(),
				"firstname": gofakeit.FirstName(),
				"lastname":  gofakeit.LastName(),
				"jobtitle":  gofakeit.JobTitle(),
			}
		default:
			return map[string]interface{}{
				"email":      gofakeit.Email(),
				"entityName": gofakeit.Name(),
				"title":      gofakeit.JobTitle(),
			}
		}
	case "company":
		switch source {
		case "salesforce":
			return map[string]interface{}{
				"Name":        gofakeit.Company(),
				"Website":     gofakeit.DomainName(),
				"Industry":    gofakeit.BuzzWord(),
				"BillingCity": gofakeit.City(),
			}
		case "hubspot":
			return map[string]interface{}{
				"name":     gofakeit.Company(),
				"domain":   gofakeit.DomainName(),
				"industry": gofakeit.BuzzWord(),
				"city":     gofakeit.City(),
			}
		default:
			return map[string]interface{}{
				"companyName": gofakeit.Company(),
				"url":         gofakeit.DomainName(),
				"industry":    gofakeit.BuzzWord(),
				"city":        gofakeit.City(),
			}
		}
	case "opportunity":
		stage := gofakeit.RandomString([]string{"prospecting", "qualification", "proposal", "negotiation", "closed_won"})
		switch source {
		case "salesforce":
			return map[string]interface{}{
				"Name":      gofakeit.Company() + " - " + gofakeit.ProductName(),
				"Amount":    gofakeit.Price(1000, 500000),
				"StageName": stage,
				"CloseDate": gofakeit.FutureDate().Format(time.RFC3339),
			}
		case "hubspot":
			return map[string]interface{}{
				"dealname":  gofakeit.Company() + " - " + gofakeit.ProductName(),
				"amount":    gofakeit.Price(1000, 500000),
				"dealstage": stage,
				"closedate": gofakeit.FutureDate().Format(time.RFC3339),
			}
		default:
			return map[string]interface{}{
				"title":             gofakeit.Company() + " - " + gofakeit.ProductName(),
				"projectedTotal":    gofakeit.Price(1000, 500000),
				"entityStatus":      stage,
				"expectedCloseDate": gofakeit.FutureDate().Format(time.RFC3339),
			}
		}
	default:
		switch source {
		case "salesforce":
			return map[string]interface{}{
				"Email": gofakeit.Email(),
				"Name":  gofakeit.Name(),
				"Title": gofakeit.JobTitle(),
			}
		case "hubspot":
			return map[string]interface{}{
				"email":    gofakeit.Email(),
				"fullname": gofakeit.Name(),
				"jobtitle": gofakeit.JobTitle(),
			}
		default:
			return map[string]interface{}{
				"email":      gofakeit.Email(),
				"entityName": gofakeit.Name(),
				"title":      gofakeit.JobTitle(),
			}
		}
	}
}

func send(client *http.Client, req ingestRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := client.Post(*serverURL+"/lake/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
