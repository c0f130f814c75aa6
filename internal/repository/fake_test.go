package repository

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// fakeDynamo implements the repository API interfaces, capturing inputs and
// replaying queued outputs in call order.
type fakeDynamo struct {
	getOuts  []*dynamodb.GetItemOutput
	getErrs  []error
	putErrs  []error
	queryOut *dynamodb.QueryOutput
	queryErr error
	txErr    error

	getInputs   []*dynamodb.GetItemInput
	putInputs   []*dynamodb.PutItemInput
	queryInputs []*dynamodb.QueryInput
	txInputs    []*dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInputs = append(f.getInputs, in)
	out := &dynamodb.GetItemOutput{}
	if len(f.getOuts) > 0 {
		out, f.getOuts = f.getOuts[0], f.getOuts[1:]
	}
	var err error
	if len(f.getErrs) > 0 {
		err, f.getErrs = f.getErrs[0], f.getErrs[1:]
	}
	return out, err
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	var err error
	if len(f.putErrs) > 0 {
		err, f.putErrs = f.putErrs[0], f.putErrs[1:]
	}
	return &dynamodb.PutItemOutput{}, err
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	out := f.queryOut
	if out == nil {
		out = &dynamodb.QueryOutput{}
	}
	return out, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txInputs = append(f.txInputs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}
