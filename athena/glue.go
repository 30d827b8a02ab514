package athena

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/partition"
)

const partitionBatchSize = 100

// GlueAPI is the part of the Glue service used for partition registration.
type GlueAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	GetPartitions(ctx context.Context, params *glue.GetPartitionsInput, optFns ...func(*glue.Options)) (*glue.GetPartitionsOutput, error)
	BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error)
}

// RegisterPartitions lists the date-stamped sub-prefixes below
// bucket/prefix and adds the ones missing from the Glue table, copying the
// table's storage descriptor. Returns the number of added partitions.
// Already registered partitions are skipped.
func RegisterPartitions(ctx context.Context, client GlueAPI, lister partition.Lister, database, table, bucket, prefix string) (int, error) {
	defer log.Step(fmt.Sprintf("Registering partitions of %s.%s", database, table))()

	available, err := partition.List(ctx, lister, bucket, prefix)
	if err != nil {
		return 0, err
	}
	if len(available) == 0 {
		return 0, &partition.NotFoundError{Bucket: bucket, Prefix: prefix}
	}

	existing, err := existingPartitions(ctx, client, database, table)
	if err != nil {
		return 0, err
	}

	var missing []string
	for _, value := range available {
		if _, ok := existing[value]; !ok {
			missing = append(missing, value)
		}
	}
	if len(missing) == 0 {
		log.Printf("[info] all %d partitions of %s.%s registered", len(available), database, table)
		return 0, nil
	}

	tbl, err := client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "getting table %s.%s", database, table)
	}
	sd := tbl.Table.StorageDescriptor
	location := ""
	if sd != nil && sd.Location != nil {
		location = strings.TrimSuffix(*sd.Location, "/") + "/"
	}

	added := 0
	for _, chunk := range chunkValues(missing, partitionBatchSize) {
		inputs := make([]types.PartitionInput, 0, len(chunk))
		for _, value := range chunk {
			partSD := copyStorageDescriptor(sd)
			if partSD != nil {
				partSD.Location = aws.String(location + "ds=" + value + "/")
			}
			inputs = append(inputs, types.PartitionInput{
				Values:            []string{value},
				StorageDescriptor: partSD,
			})
		}
		out, err := client.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
			DatabaseName:       aws.String(database),
			TableName:          aws.String(table),
			PartitionInputList: inputs,
		})
		if err != nil {
			return added, errors.Wrapf(err, "creating partitions for %s.%s", database, table)
		}
		added += len(chunk)
		for _, perr := range out.Errors {
			if perr.ErrorDetail == nil {
				continue
			}
			code := aws.ToString(perr.ErrorDetail.ErrorCode)
			if code == "AlreadyExistsException" {
				added--
				continue
			}
			return added, errors.Errorf("creating partition %v: %s: %s",
				perr.PartitionValues, code, aws.ToString(perr.ErrorDetail.ErrorMessage))
		}
	}

	log.Printf("[info] added %d partitions to %s.%s", added, database, table)
	return added, nil
}

func existingPartitions(ctx context.Context, client GlueAPI, database, table string) (map[string]struct{}, error) {
	existing := map[string]struct{}{}
	var token *string
	for {
		out, err := client.GetPartitions(ctx, &glue.GetPartitionsInput{
			DatabaseName: aws.String(database),
			TableName:    aws.String(table),
			NextToken:    token,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "getting partitions of %s.%s", database, table)
		}
		for _, p := range out.Partitions {
			if len(p.Values) > 0 {
				existing[p.Values[0]] = struct{}{}
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return existing, nil
}

func copyStorageDescriptor(sd *types.StorageDescriptor) *types.StorageDescriptor {
	if sd == nil {
		return nil
	}
	dup := *sd
	return &dup
}

func chunkValues(values []string, size int) [][]string {
	var chunks [][]string
	for len(values) > size {
		chunks = append(chunks, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}
